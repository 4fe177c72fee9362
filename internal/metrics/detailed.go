package metrics

import (
	"sync"
	"time"
)

// OperationType represents a kernel filesystem callback the resolver serves.
type OperationType string

const (
	OpRead     OperationType = "read"
	OpWrite    OperationType = "write"
	OpDelete   OperationType = "delete"
	OpList     OperationType = "list"
	OpGetAttr  OperationType = "getattr"
	OpSetAttr  OperationType = "setattr"
	OpCreate   OperationType = "create"
	OpRename   OperationType = "rename"
	OpReadDir  OperationType = "readdir"
	OpMkDir    OperationType = "mkdir"
	OpRmDir    OperationType = "rmdir"
	OpOpen     OperationType = "open"
	OpRelease  OperationType = "release"
	OpTruncate OperationType = "truncate"
	OpChmod    OperationType = "chmod"
	OpChown    OperationType = "chown"
	OpLink     OperationType = "link"
	OpSymlink  OperationType = "symlink"
	OpStatFS   OperationType = "statfs"
	OpFlush    OperationType = "flush"
	OpFsync    OperationType = "fsync"
)

// SourceType indicates which layer of the union view served a read.
type SourceType string

const (
	// SourceOverride means the content came from the in-memory override arena.
	SourceOverride SourceType = "override"
	// SourceBackingFile means the content came from the real source directory.
	SourceBackingFile SourceType = "source"
)

// DetailedOperationMetrics tracks latency, size, and hit/miss statistics
// for one operation type across the whole mount.
type DetailedOperationMetrics struct {
	Count             int64         `json:"count"`
	TotalLatency      time.Duration `json:"total_latency"`
	MinLatency        time.Duration `json:"min_latency"`
	MaxLatency        time.Duration `json:"max_latency"`
	AverageLatency    time.Duration `json:"average_latency"`
	ErrorCount        int64         `json:"error_count"`
	BytesProcessed    int64         `json:"bytes_processed"`
	OverrideHits      int64         `json:"override_hits"`
	SourceHits        int64         `json:"source_hits"`
	OverrideHitRate   float64       `json:"override_hit_rate"`
	AvgBytesPerOp     float64       `json:"avg_bytes_per_op"`
	ThroughputMBps    float64       `json:"throughput_mbps"`
	LastOperationTime time.Time     `json:"last_operation_time"`
}

// FileOperationMetrics tracks per-path access statistics.
type FileOperationMetrics struct {
	Path            string                                       `json:"path"`
	Operations      map[OperationType]*DetailedOperationMetrics `json:"operations"`
	TotalAccesses   int64                                        `json:"total_accesses"`
	FirstAccess     time.Time                                    `json:"first_access"`
	LastAccess      time.Time                                    `json:"last_access"`
	BytesRead       int64                                        `json:"bytes_read"`
	BytesWritten    int64                                        `json:"bytes_written"`
	OverrideHitRate float64                                      `json:"override_hit_rate"`
	AvgLatency      time.Duration                                `json:"avg_latency"`
	mu              sync.RWMutex                                 `json:"-"`
}

// SourceBreakdownMetrics tracks override/source split by operation type.
type SourceBreakdownMetrics struct {
	OperationType   OperationType                 `json:"operation_type"`
	OverrideHits    int64                         `json:"override_hits"`
	SourceHits      int64                         `json:"source_hits"`
	TotalRequests   int64                         `json:"total_requests"`
	OverrideHitRate float64                       `json:"override_hit_rate"`
	AvgLatency      map[SourceType]time.Duration `json:"avg_latency"`
}

// DetailedPerformanceMetrics aggregates per-operation and per-file stats
// for a running mount.
type DetailedPerformanceMetrics struct {
	mu                    sync.RWMutex
	OperationMetrics      map[OperationType]*DetailedOperationMetrics `json:"operation_metrics"`
	FileMetrics           map[string]*FileOperationMetrics            `json:"-"`
	SourceBreakdown       map[OperationType]*SourceBreakdownMetrics   `json:"source_breakdown"`
	StartTime             time.Time                                   `json:"start_time"`
	LastUpdateTime        time.Time                                   `json:"last_update_time"`
	TotalOperations       int64                                       `json:"total_operations"`
	TotalErrors           int64                                       `json:"total_errors"`
	TotalBytesProcessed   int64                                       `json:"total_bytes_processed"`
	OverallOverrideHitRate float64                                    `json:"overall_override_hit_rate"`
	OverallErrorRate      float64                                     `json:"overall_error_rate"`
	TopFilesEnabled       bool                                        `json:"top_files_enabled"`
	MaxTrackedFiles       int                                         `json:"max_tracked_files"`
}

// NewDetailedPerformanceMetrics creates a detailed performance metrics collector.
func NewDetailedPerformanceMetrics(maxTrackedFiles int, trackFiles bool) *DetailedPerformanceMetrics {
	return &DetailedPerformanceMetrics{
		OperationMetrics: make(map[OperationType]*DetailedOperationMetrics),
		FileMetrics:      make(map[string]*FileOperationMetrics),
		SourceBreakdown:  make(map[OperationType]*SourceBreakdownMetrics),
		StartTime:        time.Now(),
		LastUpdateTime:   time.Now(),
		TopFilesEnabled:  trackFiles,
		MaxTrackedFiles:  maxTrackedFiles,
	}
}

// RecordOperation records metrics for a single filesystem operation.
func (dpm *DetailedPerformanceMetrics) RecordOperation(
	opType OperationType,
	path string,
	latency time.Duration,
	bytes int64,
	source SourceType,
	err error,
) {
	dpm.mu.Lock()
	defer dpm.mu.Unlock()

	now := time.Now()
	dpm.LastUpdateTime = now
	dpm.TotalOperations++
	dpm.TotalBytesProcessed += bytes

	if dpm.OperationMetrics[opType] == nil {
		dpm.OperationMetrics[opType] = &DetailedOperationMetrics{
			MinLatency: latency,
		}
	}

	om := dpm.OperationMetrics[opType]
	om.Count++
	om.TotalLatency += latency
	om.LastOperationTime = now
	om.BytesProcessed += bytes

	if latency < om.MinLatency || om.MinLatency == 0 {
		om.MinLatency = latency
	}
	if latency > om.MaxLatency {
		om.MaxLatency = latency
	}

	om.AverageLatency = time.Duration(int64(om.TotalLatency) / om.Count)

	if source == SourceOverride {
		om.OverrideHits++
	} else {
		om.SourceHits++
	}
	total := om.OverrideHits + om.SourceHits
	if total > 0 {
		om.OverrideHitRate = float64(om.OverrideHits) / float64(total)
	}

	if err != nil {
		om.ErrorCount++
		dpm.TotalErrors++
	}

	if om.Count > 0 {
		om.AvgBytesPerOp = float64(om.BytesProcessed) / float64(om.Count)
	}

	if om.TotalLatency > 0 {
		seconds := om.TotalLatency.Seconds()
		om.ThroughputMBps = (float64(om.BytesProcessed) / (1024 * 1024)) / seconds
	}

	dpm.updateSourceBreakdown(opType, source, latency)

	if dpm.TopFilesEnabled && path != "" {
		dpm.updateFileMetrics(path, opType, latency, bytes, source, err)
	}

	dpm.updateOverallMetrics()
}

// GetOperationMetrics returns metrics for a specific operation type.
func (dpm *DetailedPerformanceMetrics) GetOperationMetrics(opType OperationType) *DetailedOperationMetrics {
	dpm.mu.RLock()
	defer dpm.mu.RUnlock()

	if om, exists := dpm.OperationMetrics[opType]; exists {
		omCopy := *om
		return &omCopy
	}
	return nil
}

// GetTopFiles returns the N most accessed files.
func (dpm *DetailedPerformanceMetrics) GetTopFiles(n int) []*FileOperationMetrics {
	dpm.mu.RLock()
	defer dpm.mu.RUnlock()

	if !dpm.TopFilesEnabled {
		return nil
	}

	files := make([]*FileOperationMetrics, 0, len(dpm.FileMetrics))
	for _, fm := range dpm.FileMetrics {
		fmCopy := &FileOperationMetrics{
			Path:            fm.Path,
			TotalAccesses:   fm.TotalAccesses,
			FirstAccess:     fm.FirstAccess,
			LastAccess:      fm.LastAccess,
			BytesRead:       fm.BytesRead,
			BytesWritten:    fm.BytesWritten,
			OverrideHitRate: fm.OverrideHitRate,
			AvgLatency:      fm.AvgLatency,
		}
		files = append(files, fmCopy)
	}

	for i := 0; i < len(files)-1; i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].TotalAccesses > files[i].TotalAccesses {
				files[i], files[j] = files[j], files[i]
			}
		}
	}

	if n > len(files) {
		n = len(files)
	}
	return files[:n]
}

// GetSummary returns a summary of all metrics.
func (dpm *DetailedPerformanceMetrics) GetSummary() map[string]interface{} {
	dpm.mu.RLock()
	defer dpm.mu.RUnlock()

	uptime := time.Since(dpm.StartTime)

	return map[string]interface{}{
		"uptime_seconds":          uptime.Seconds(),
		"total_operations":        dpm.TotalOperations,
		"total_errors":            dpm.TotalErrors,
		"total_bytes_processed":   dpm.TotalBytesProcessed,
		"overall_override_hit_rate": dpm.OverallOverrideHitRate,
		"overall_error_rate":      dpm.OverallErrorRate,
		"operations_per_second":   float64(dpm.TotalOperations) / uptime.Seconds(),
		"throughput_mbps":         (float64(dpm.TotalBytesProcessed) / (1024 * 1024)) / uptime.Seconds(),
		"tracked_files_count":     len(dpm.FileMetrics),
		"last_update":             dpm.LastUpdateTime.Format(time.RFC3339),
	}
}

// Reset clears all metrics.
func (dpm *DetailedPerformanceMetrics) Reset() {
	dpm.mu.Lock()
	defer dpm.mu.Unlock()

	dpm.OperationMetrics = make(map[OperationType]*DetailedOperationMetrics)
	dpm.FileMetrics = make(map[string]*FileOperationMetrics)
	dpm.SourceBreakdown = make(map[OperationType]*SourceBreakdownMetrics)
	dpm.StartTime = time.Now()
	dpm.LastUpdateTime = time.Now()
	dpm.TotalOperations = 0
	dpm.TotalErrors = 0
	dpm.TotalBytesProcessed = 0
	dpm.OverallOverrideHitRate = 0
	dpm.OverallErrorRate = 0
}

func (dpm *DetailedPerformanceMetrics) updateSourceBreakdown(
	opType OperationType,
	source SourceType,
	latency time.Duration,
) {
	if dpm.SourceBreakdown[opType] == nil {
		dpm.SourceBreakdown[opType] = &SourceBreakdownMetrics{
			OperationType: opType,
			AvgLatency:    make(map[SourceType]time.Duration),
		}
	}

	sb := dpm.SourceBreakdown[opType]
	sb.TotalRequests++

	switch source {
	case SourceOverride:
		sb.OverrideHits++
	case SourceBackingFile:
		sb.SourceHits++
	}

	if sb.TotalRequests > 0 {
		sb.OverrideHitRate = float64(sb.OverrideHits) / float64(sb.TotalRequests)
	}

	if sb.AvgLatency[source] == 0 {
		sb.AvgLatency[source] = latency
	} else {
		sb.AvgLatency[source] = time.Duration(
			(int64(sb.AvgLatency[source])*9 + int64(latency)) / 10,
		)
	}
}

func (dpm *DetailedPerformanceMetrics) updateFileMetrics(
	path string,
	opType OperationType,
	latency time.Duration,
	bytes int64,
	source SourceType,
	err error,
) {
	if len(dpm.FileMetrics) >= dpm.MaxTrackedFiles && dpm.FileMetrics[path] == nil {
		return
	}

	if dpm.FileMetrics[path] == nil {
		dpm.FileMetrics[path] = &FileOperationMetrics{
			Path:        path,
			Operations:  make(map[OperationType]*DetailedOperationMetrics),
			FirstAccess: time.Now(),
		}
	}

	fm := dpm.FileMetrics[path]
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.TotalAccesses++
	fm.LastAccess = time.Now()

	if opType == OpRead {
		fm.BytesRead += bytes
	} else if opType == OpWrite {
		fm.BytesWritten += bytes
	}

	if fm.Operations[opType] == nil {
		fm.Operations[opType] = &DetailedOperationMetrics{
			MinLatency: latency,
		}
	}

	opMetrics := fm.Operations[opType]
	opMetrics.Count++
	opMetrics.TotalLatency += latency
	opMetrics.BytesProcessed += bytes

	if latency < opMetrics.MinLatency || opMetrics.MinLatency == 0 {
		opMetrics.MinLatency = latency
	}
	if latency > opMetrics.MaxLatency {
		opMetrics.MaxLatency = latency
	}

	opMetrics.AverageLatency = time.Duration(int64(opMetrics.TotalLatency) / opMetrics.Count)

	if source == SourceOverride {
		opMetrics.OverrideHits++
	} else {
		opMetrics.SourceHits++
	}

	if err != nil {
		opMetrics.ErrorCount++
	}

	totalOps := int64(0)
	totalHits := int64(0)
	totalLatency := time.Duration(0)
	for _, om := range fm.Operations {
		totalOps += om.Count
		totalHits += om.OverrideHits
		totalLatency += om.TotalLatency
	}

	if totalOps > 0 {
		fm.OverrideHitRate = float64(totalHits) / float64(totalOps)
		fm.AvgLatency = time.Duration(int64(totalLatency) / totalOps)
	}
}

func (dpm *DetailedPerformanceMetrics) updateOverallMetrics() {
	totalOverrideHits := int64(0)
	totalSourceHits := int64(0)

	for _, om := range dpm.OperationMetrics {
		totalOverrideHits += om.OverrideHits
		totalSourceHits += om.SourceHits
	}

	total := totalOverrideHits + totalSourceHits
	if total > 0 {
		dpm.OverallOverrideHitRate = float64(totalOverrideHits) / float64(total)
	}

	if dpm.TotalOperations > 0 {
		dpm.OverallErrorRate = float64(dpm.TotalErrors) / float64(dpm.TotalOperations)
	}
}

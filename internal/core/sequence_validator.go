package core

import (
	"errors"
	"fmt"
	"sort"
)

// ErrStaleRefresh marks a refresh older than one already applied. The core
// drops it without error.
var ErrStaleRefresh = errors.New("stale refresh")

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only the core touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence enforces gap-free ordering within a partition. A
// duplicate behind the cursor is accepted so the caller can skip it.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order instruction: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateRefreshSequence orders reserve refreshes. Gaps are tolerated
// because a refresh supersedes every earlier one; older ones are stale.
func (sv *SequenceValidator) ValidateRefreshSequence(
	marketID string,
	reserveIndex uint16,
	refreshSequence int64,
) error {
	partition := refreshPartition(marketID, reserveIndex)
	expected := sv.expectedNextSeq[partition]

	if refreshSequence < expected {
		return fmt.Errorf("%s: got %d, expected >= %d: %w", partition, refreshSequence, expected, ErrStaleRefresh)
	}
	if refreshSequence > expected {
		sv.metrics.RecordRefreshGap(partition, expected, refreshSequence)
	}

	sv.expectedNextSeq[partition] = refreshSequence + 1
	return nil
}

func refreshPartition(marketID string, reserveIndex uint16) string {
	return fmt.Sprintf("refresh:%s:%d", marketID, reserveIndex)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets the cursor of one partition during recovery.
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}

// GetAllPartitions copies every cursor for a snapshot.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Partitions returns the partition names in sorted order.
func (sv *SequenceValidator) Partitions() []string {
	out := make([]string, 0, len(sv.expectedNextSeq))
	for k := range sv.expectedNextSeq {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
type SequenceMetrics struct {
	gaps        map[string]int64 // partition -> gap count
	outOfOrder  map[string]int64 // partition -> out-of-order count
	refreshGaps map[string]int64 // refresh partition -> gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:        make(map[string]int64),
		outOfOrder:  make(map[string]int64),
		refreshGaps: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordRefreshGap(partition string, expected, got int64) {
	m.refreshGaps[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetRefreshGaps(partition string) int64 {
	return m.refreshGaps[partition]
}

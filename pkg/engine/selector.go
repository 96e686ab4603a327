package engine

// SelectBlocks returns every block that targets machineID, in document order.
// Matching is exact and case-sensitive. Several blocks may match; all of them apply,
// and later blocks win for same-named resources because they run later.
func SelectBlocks(blocks []ConfigurationBlock, machineID string) []ConfigurationBlock {
	selected := make([]ConfigurationBlock, 0, len(blocks))
	for _, block := range blocks {
		if block.TargetsMachine(machineID) {
			selected = append(selected, block)
		}
	}
	return selected
}

// selectBlockIndexes is SelectBlocks keeping each block's position in the document.
func selectBlockIndexes(blocks []ConfigurationBlock, machineID string) []int {
	var indexes []int
	for i, block := range blocks {
		if block.TargetsMachine(machineID) {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

package gpu

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DetectAvailable shells out to nvidia-smi and returns the indices of GPUs
// whose used-memory fraction is at or below maxMemoryUsed — the Go
// equivalent of GPUtil.getAvailable in the original tooling.
func DetectAvailable(ctx context.Context, maxMemoryUsed float64) ([]int, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run nvidia-smi: %w", err)
	}

	var available []int
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		used, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			continue
		}
		total, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil || total == 0 {
			continue
		}
		if used/total <= maxMemoryUsed {
			available = append(available, index)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan nvidia-smi output: %w", err)
	}
	return available, nil
}

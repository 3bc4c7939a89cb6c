package replication

import (
	"fmt"

	"github.com/charmbracelet/log"

	"movesync/pkg/core"
)

// invariant 内部不变量被破坏：debug 构建直接 panic，否则记录错误并继续
func invariant(logger *log.Logger, format string, args ...any) {
	err := fmt.Errorf("%w: %s", core.ErrInvariantViolation, fmt.Sprintf(format, args...))
	if debugAssertions {
		panic(err)
	}
	logger.Error("内部不变量被破坏", "err", err)
}

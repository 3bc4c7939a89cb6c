package replication

import (
	"fmt"
	"math"

	"movesync/pkg/core"
)

// verifyTimestamps 校验批次时间戳的可信度
func (a *Authority) verifyTimestamps(moves []core.Move, rtt float64) error {
	newest := moves[len(moves)-1].Timestamp
	expected := a.deps.Clock.Now() - rtt/2
	deviation := math.Abs(newest - expected)
	if a.deps.Obs.Timestamps() {
		a.logger.Debug("校验时间戳", "newest", newest, "expected", expected, "deviation", deviation)
	}
	if deviation > a.rep.MaxAllowedTimestampDeviation {
		return fmt.Errorf("%w: 时间戳偏差 %.4fs 超过 %.4fs", core.ErrProtocolViolation,
			deviation, a.rep.MaxAllowedTimestampDeviation)
	}

	accumulated := 0.0
	for i := 1; i < len(moves); i++ {
		gap := moves[i].Timestamp - moves[i-1].Timestamp
		if gap <= 0 {
			return fmt.Errorf("%w: 批次内时间戳未递增 (%f -> %f)", core.ErrProtocolViolation,
				moves[i-1].Timestamp, moves[i].Timestamp)
		}
		accumulated += gap
	}
	if accumulated > a.net.MaxServerDeltaTime {
		return fmt.Errorf("%w: 批次时间跨度 %.4fs 超过 %.4fs", core.ErrProtocolViolation,
			accumulated, a.net.MaxServerDeltaTime)
	}
	return nil
}

// addStrike 记录一次违规，超过上限时通知宿主
func (a *Authority) addStrike(reason error) {
	a.strikes++
	a.deps.Metrics.Strike()
	a.logger.Warn("移动批次被拒绝", "err", reason, "strikes", a.strikes)
	if a.strikes > a.rep.MaxStrikeCount {
		a.conspicuous()
	}
}

func (a *Authority) conspicuous() {
	a.logger.Warn("可疑客户端", "strikes", a.strikes, "owner", a.owner)
	if h := a.hooks.HandleConspicuousClient; h != nil {
		h(a.strikes)
	}
}

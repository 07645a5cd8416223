package app

import (
	"sync/atomic"
	"time"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/ws"
)

const (
	liveFeedTTL = 30 * time.Minute
	// 每收到 pruneEvery 条事件清理一次过期条目
	pruneEvery = 256
)

// publisher WebSocket 推送
type publisher interface {
	Publish(channel ws.Channel, data interface{})
}

// liveFeed 实时下注流去重后推送; 同一下注的下注与开奖视为两条事件
type liveFeed struct {
	out      publisher
	seen     *blockchain.TTLCache[string, struct{}]
	received atomic.Uint64
}

func newLiveFeed(out publisher, ttl time.Duration) *liveFeed {
	return &liveFeed{out: out, seen: blockchain.NewTTLCache[string, struct{}](ttl)}
}

func (f *liveFeed) handle(ev *model.BetEvent) {
	if ev == nil || ev.BetID == nil {
		return
	}
	if f.received.Add(1)%pruneEvery == 0 {
		f.seen.Prune()
	}

	key := ev.BetID.String()
	if ev.Resolved {
		key += ":resolved"
	}
	if _, dup := f.seen.Get(key); dup {
		return
	}
	f.seen.Put(key, struct{}{})
	f.out.Publish(ws.ChannelBets, ev)
}

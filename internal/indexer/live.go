package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/retry"
)

var errStreamClosed = errors.New("live stream closed by server")

// Subscription 实时订阅句柄
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop 停止订阅并等待后台读取退出, 可重复调用
func (s *Subscription) Stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done 订阅结束时关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// LiveConfig 实时订阅配置
type LiveConfig struct {
	// ReconnectInterval 断线重连间隔
	ReconnectInterval time.Duration
}

// SubscribeBets 订阅新索引的 BetPlaced 行
//
// 每条事件最多投递一次, 重连可能漏掉事件, 调用方自行去重。
func (c *Client) SubscribeBets(ctx context.Context, player common.Address, cfg LiveConfig, fn func(*model.BetEvent)) *Subscription {
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	q := fmt.Sprintf("select betid, player, amount, targetodds, blocknumber, tx_hash, block_time from betplaced where address = %s",
		strings.ToLower(c.cfg.Dice.Hex()))
	if player != (common.Address{}) {
		q += fmt.Sprintf(" and player = %s", strings.ToLower(player.Hex()))
	}

	go func() {
		defer close(sub.done)
		cursor := ""
		policy := retry.Policy{Interval: cfg.ReconnectInterval}.
			WithNotify(func(attempt int, err error, next time.Duration) {
				logger.Info("indexer live stream reconnecting",
					zap.Int("attempt", attempt),
					zap.Duration("next", next),
					zap.Error(err))
			})
		_ = retry.Do(ctx, policy, func(ctx context.Context) error {
			return c.stream(ctx, q, &cursor, fn)
		})
	}()
	return sub
}

// stream 读取 SSE, 每个 data 帧与查询接口的响应格式相同
func (c *Client) stream(ctx context.Context, query string, cursor *string, fn func(*model.BetEvent)) error {
	params := url.Values{}
	params.Set("query", query)
	params.Add("signatures", SigBetPlaced)
	if *cursor != "" {
		params.Set("cursor", *cursor)
	} else {
		params.Set("cursor", fmt.Sprintf("%d-0", c.cfg.ChainID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v2/query-live", params), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// 长连接不受普通查询超时限制
	client := *c.http
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer live status %d", resp.StatusCode)
	}

	dispatch := func(payload string) {
		if strings.TrimSpace(payload) == "" {
			return
		}
		var frame queryResponse
		dec := json.NewDecoder(strings.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&frame); err != nil {
			logger.Debug("skipping malformed live frame", zap.Error(err))
			return
		}
		if frame.Cursor != "" {
			*cursor = frame.Cursor
		}
		rows, err := frame.rows()
		if err != nil {
			logger.Debug("skipping live frame", zap.Error(err))
			return
		}
		for _, row := range rows {
			ev, err := NormalizeBet(row)
			if err != nil {
				continue
			}
			metrics.LiveEventsTotal.Inc()
			fn(ev)
		}
	}

	// 一个事件可以有多行 data:, 空行结束
	var data []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch(strings.Join(data, "\n"))
			data = data[:0]
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if len(data) > 0 {
		dispatch(strings.Join(data, "\n"))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errStreamClosed
}

// Package indexer 查询和订阅外部事件索引服务, 并把行数据归一化为下注/资金池事件
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/blockchain"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// 事件签名, 索引服务按签名建虚拟表 (表名与列名均为小写)
const (
	SigBetPlaced   = "BetPlaced(uint256 indexed betId, address indexed player, uint128 amount, uint64 targetOdds, uint64 blockNumber)"
	SigBetResolved = "BetResolved(uint256 indexed betId, bool won, uint256 result, uint256 payout)"
	SigDeposit     = "Deposit(address indexed sender, address indexed owner, uint256 assets, uint256 shares)"
	SigWithdraw    = "Withdraw(address indexed sender, address indexed receiver, address indexed owner, uint256 assets, uint256 shares)"
)

var (
	ErrEmptyBaseURL = errors.New("indexer base url is required")
	ErrBadResponse  = errors.New("unexpected indexer response")
)

// Config 索引客户端配置
type Config struct {
	BaseURL     string
	APIKey      string
	ChainID     int64
	Dice        common.Address
	Vault       common.Address
	Timeout     time.Duration
	ClaimWindow uint64
	HTTPClient  *http.Client
}

// Client 索引服务客户端
type Client struct {
	cfg   Config
	http  *http.Client
	heads *blockchain.BlockNumberCache
}

// NewClient 创建客户端, heads 用于推导过期状态, 可为空
func NewClient(cfg Config, heads *blockchain.BlockNumberCache) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ClaimWindow == 0 {
		cfg.ClaimWindow = blockchain.DefaultClaimWindow
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, heads: heads}, nil
}

type queryRequest struct {
	Cursor     string   `json:"cursor,omitempty"`
	Signatures []string `json:"signatures"`
	Query      string   `json:"query"`
}

// queryResponse 每个查询一组结果, 第一行为列名
type queryResponse struct {
	BlockHeight uint64    `json:"block_height"`
	Cursor      string    `json:"cursor"`
	Result      [][][]any `json:"result"`
}

// Row 一行数据, 键为小写列名
type Row map[string]any

func (r queryResponse) rows() ([]Row, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	table := r.Result[0]
	if len(table) == 0 {
		return nil, nil
	}
	header := make([]string, len(table[0]))
	for i, h := range table[0] {
		name, ok := h.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string column name", ErrBadResponse)
		}
		header[i] = strings.ToLower(name)
	}
	rows := make([]Row, 0, len(table)-1)
	for _, values := range table[1:] {
		row := make(Row, len(header))
		for i, v := range values {
			if i < len(header) {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Query 执行查询
func (c *Client) Query(ctx context.Context, query string, signatures ...string) ([]Row, error) {
	start := time.Now()
	rows, err := c.query(ctx, query, signatures)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.RecordIndexerQuery(status, time.Since(start).Seconds())
	if err != nil {
		logger.Warn("indexer query failed", zap.Error(err))
		return nil, bizerr.Wrap(bizerr.ErrIndexerQuery, err)
	}
	return rows, nil
}

func (c *Client) query(ctx context.Context, query string, signatures []string) ([]Row, error) {
	body, err := json.Marshal([]queryRequest{{
		Cursor:     fmt.Sprintf("%d-0", c.cfg.ChainID),
		Signatures: signatures,
		Query:      query,
	}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v2/query", nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("indexer status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out queryResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return out.rows()
}

func (c *Client) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if c.cfg.APIKey != "" {
		params.Set("api-key", c.cfg.APIKey)
	}
	if len(params) == 0 {
		return c.cfg.BaseURL + path
	}
	return c.cfg.BaseURL + path + "?" + params.Encode()
}

// betHistoryQuery 地址均来自 common.Address.Hex, 不含用户输入
func (c *Client) betHistoryQuery(player common.Address, limit int) string {
	q := fmt.Sprintf(`select p.betid, p.player, p.amount, p.targetodds, p.blocknumber, p.tx_hash, p.block_time,
	r.won, r.result, r.payout, r.tx_hash as resolvedtx
from betplaced p left join betresolved r on p.betid = r.betid and r.address = p.address
where p.address = %s`, strings.ToLower(c.cfg.Dice.Hex()))
	if player != (common.Address{}) {
		q += fmt.Sprintf(" and p.player = %s", strings.ToLower(player.Hex()))
	}
	q += " order by p.block_num desc"
	if limit > 0 {
		q += fmt.Sprintf(" limit %d", limit)
	}
	return q
}

// BetHistory 查询玩家的下注记录, player 为零地址时查询全部
func (c *Client) BetHistory(ctx context.Context, player common.Address, limit int) ([]*model.BetEvent, error) {
	rows, err := c.Query(ctx, c.betHistoryQuery(player, limit), SigBetPlaced, SigBetResolved)
	if err != nil {
		return nil, err
	}
	head := c.head(ctx)
	events := make([]*model.BetEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := NormalizeBet(row)
		if err != nil {
			logger.Debug("skipping malformed bet row", zap.Error(err))
			continue
		}
		ClassifyExpiry(ev, head, c.cfg.ClaimWindow)
		events = append(events, ev)
	}
	return events, nil
}

// VaultHistory 查询资金池存取记录
func (c *Client) VaultHistory(ctx context.Context, owner common.Address, limit int) ([]*model.VaultEvent, error) {
	vault := strings.ToLower(c.cfg.Vault.Hex())
	where := ""
	if owner != (common.Address{}) {
		where = fmt.Sprintf(" and owner = %s", strings.ToLower(owner.Hex()))
	}
	q := fmt.Sprintf(`select 'deposit' as kind, owner, assets, shares, block_num, tx_hash, block_time from deposit where address = %s%s
union all
select 'withdraw' as kind, owner, assets, shares, block_num, tx_hash, block_time from withdraw where address = %s%s
order by block_num desc`, vault, where, vault, where)
	if limit > 0 {
		q += fmt.Sprintf(" limit %d", limit)
	}

	rows, err := c.Query(ctx, q, SigDeposit, SigWithdraw)
	if err != nil {
		return nil, err
	}
	events := make([]*model.VaultEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := NormalizeVault(row)
		if err != nil {
			logger.Debug("skipping malformed vault row", zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// head 读不到区块高度时返回 0, 此时不判定过期
func (c *Client) head(ctx context.Context) uint64 {
	if c.heads == nil {
		return 0
	}
	head, err := c.heads.BlockNumber(ctx)
	if err != nil {
		logger.Debug("head unavailable for expiry classification", zap.Error(err))
		return 0
	}
	return head
}

package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TokenTransferor 代币划转接口
// 划转是外部原子操作：返回错误时调用方必须整体回滚，不存在部分到账
type TokenTransferor interface {
	// Pull 从 from 地址拉取 amount 到平台托管账户
	Pull(ctx context.Context, token, from string, amount uint64) error
	// Push 从平台托管账户支付 amount 到 to 地址
	Push(ctx context.Context, token, to string, amount uint64) error
	// HasCode 判断地址是否为已部署的合约地址
	HasCode(ctx context.Context, token string) (bool, error)
}

type TokenGatewayConfig struct {
	APIURL    string // 代币网关地址
	VendorSN  string
	VendorKey string // 请求签名密钥
}

// TokenGateway 通过HTTP网关执行代币划转
type TokenGateway struct {
	config     TokenGatewayConfig
	httpClient *http.Client
}

func NewTokenGateway(config TokenGatewayConfig) *TokenGateway {
	// 创建HTTP客户端连接池
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			MaxConnsPerHost:       100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 30 * time.Second,
	}

	return &TokenGateway{
		config:     config,
		httpClient: httpClient,
	}
}

// GenerateSign 生成请求签名
// 规则：剔除sign参数 -> 按ASCII码递增排序 -> 参数=参数值&拼接 -> 拼接&key=密钥 -> MD5 -> 转大写
func (tg *TokenGateway) GenerateSign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	signStr := strings.Join(pairs, "&") + "&key=" + tg.config.VendorKey

	sum := md5.Sum([]byte(signStr))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

type gatewayResponse struct {
	Result  string `json:"result"`
	Message string `json:"message"`
	HasCode bool   `json:"has_code"`
}

// call 发起签名请求并校验网关应答
func (tg *TokenGateway) call(ctx context.Context, path string, params map[string]string) (*gatewayResponse, error) {
	params["vendor_sn"] = tg.config.VendorSN
	params["timestamp"] = strconv.FormatInt(time.Now().Unix(), 10)
	params["sign"] = tg.GenerateSign(params)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tg.config.APIURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tg.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token gateway returned status %d: %s", resp.StatusCode, string(data))
	}

	var gr gatewayResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return nil, fmt.Errorf("invalid token gateway response: %w", err)
	}
	if gr.Result != "ok" {
		return nil, fmt.Errorf("token transfer rejected: %s", gr.Message)
	}
	return &gr, nil
}

func (tg *TokenGateway) Pull(ctx context.Context, token, from string, amount uint64) error {
	_, err := tg.call(ctx, "/transfer/pull", map[string]string{
		"token":  token,
		"from":   from,
		"amount": strconv.FormatUint(amount, 10),
	})
	return err
}

func (tg *TokenGateway) Push(ctx context.Context, token, to string, amount uint64) error {
	_, err := tg.call(ctx, "/transfer/push", map[string]string{
		"token":  token,
		"to":     to,
		"amount": strconv.FormatUint(amount, 10),
	})
	return err
}

func (tg *TokenGateway) HasCode(ctx context.Context, token string) (bool, error) {
	gr, err := tg.call(ctx, "/contract/code", map[string]string{
		"token": token,
	})
	if err != nil {
		return false, err
	}
	return gr.HasCode, nil
}

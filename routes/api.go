package routes

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zhifu/funding-pool/services"
	"github.com/zhifu/funding-pool/utils"
)

type APIRoutes struct {
	pool *services.PoolService
	// WebSocket相关
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex
}

func NewAPIRoutes(pool *services.PoolService) *APIRoutes {
	ar := &APIRoutes{
		pool: pool,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的WebSocket连接
			},
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}

	// 台账事件经由集线器推送给所有已连接客户端
	pool.SetBroadcast(ar.BroadcastEvent)

	// 启动WebSocket处理协程
	go ar.runWebSocketServer()

	return ar
}

// SetupRoutes 设置路由
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/campaigns", ar.CreateCampaign)
		api.PUT("/campaigns/:id", ar.UpdateCampaign)
		api.PUT("/campaigns/:id/endtime", ar.ChangeEndTime)
		api.DELETE("/campaigns/:id", ar.CancelCampaign)
		api.POST("/campaigns/:id/donate", ar.Donate)
		api.POST("/campaigns/:id/refund", ar.ClaimRefund)
		api.POST("/campaigns/:id/withdraw", ar.WithdrawFunds)

		api.GET("/campaigns/:id", ar.GetCampaign)
		api.GET("/campaigns/:id/balance", ar.GetBalance)
		api.GET("/campaigns/:id/progress", ar.GetProgress)
		api.GET("/campaigns/:id/donors", ar.GetDonorList)
		api.GET("/campaigns/:id/donors/:address", ar.GetDonorRecord)
		api.GET("/campaigns/:id/info", ar.GetCampaignInfo)
		api.GET("/creators/:address/campaigns", ar.GetCreatorCampaigns)
		api.GET("/donors/:address/campaigns", ar.GetDonorCampaigns)
	}

	admin := router.Group("/api/admin")
	{
		admin.POST("/pause", ar.Pause)
		admin.POST("/unpause", ar.Unpause)
		admin.POST("/campaigns/:id/dispute", ar.FlagDisputed)
		admin.POST("/campaigns/:id/resolve", ar.ResolveDispute)
		admin.PUT("/fee-rate", ar.SetFeeRate)
		admin.POST("/collect-fees", ar.CollectFees)
		admin.POST("/emergency-withdraw", ar.EmergencyWithdraw)
	}

	// WebSocket路由
	router.GET("/ws", ar.WebSocketHandler)

	// 活动捐款页二维码
	router.GET("/qrcode", ar.GenerateQRCode)
}

// caller 从请求头取调用方地址
func caller(c *gin.Context) (string, bool) {
	addr := c.GetHeader("X-Caller-Address")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Caller-Address header"})
		return "", false
	}
	return addr, true
}

// campaignID 解析路径中的活动ID
func campaignID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return 0, false
	}
	return uint(id), true
}

// fail 按错误类别映射HTTP状态码
func fail(c *gin.Context, err error) {
	status := http.StatusConflict // 状态类与时间类默认409
	switch {
	case services.IsNotFoundErr(err):
		status = http.StatusNotFound
	case services.IsAuthorizationErr(err):
		status = http.StatusForbidden
	case services.IsInvalidInputErr(err):
		status = http.StatusBadRequest
	case services.IsConservationErr(err):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CreateCampaign 创建众筹活动
func (ar *APIRoutes) CreateCampaign(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}

	var req services.CreateCampaignInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := ar.pool.CreateCampaign(c.Request.Context(), addr, req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaign_id": id})
}

// UpdateCampaign 更新活动展示信息
func (ar *APIRoutes) UpdateCampaign(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req services.UpdateCampaignInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ar.pool.UpdateCampaignDetails(c.Request.Context(), addr, id, req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id})
}

// ChangeEndTime 修改活动截止时间
func (ar *APIRoutes) ChangeEndTime(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req struct {
		EndTime int64 `json:"end_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ar.pool.ChangeEndTime(c.Request.Context(), addr, id, req.EndTime); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "end_time": req.EndTime})
}

// CancelCampaign 取消活动（仅限未收到任何捐款时）
func (ar *APIRoutes) CancelCampaign(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	if err := ar.pool.CancelCampaign(c.Request.Context(), addr, id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id})
}

// Donate 捐款
func (ar *APIRoutes) Donate(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req struct {
		Amount uint64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ar.pool.Donate(c.Request.Context(), addr, id, req.Amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "amount": req.Amount})
}

// ClaimRefund 申领退款
func (ar *APIRoutes) ClaimRefund(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	refunded, err := ar.pool.ClaimRefund(c.Request.Context(), addr, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "refunded": refunded})
}

// WithdrawFunds 发起人提取资金
func (ar *APIRoutes) WithdrawFunds(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	withdrawn, err := ar.pool.WithdrawFunds(c.Request.Context(), addr, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "withdrawn": withdrawn})
}

// Pause 管理员暂停系统
func (ar *APIRoutes) Pause(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	if err := ar.pool.Pause(c.Request.Context(), addr); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Unpause 管理员恢复系统
func (ar *APIRoutes) Unpause(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	if err := ar.pool.Unpause(c.Request.Context(), addr); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// FlagDisputed 管理员标记争议
func (ar *APIRoutes) FlagDisputed(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	if err := ar.pool.FlagDisputed(c.Request.Context(), addr, id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "disputed": true})
}

// ResolveDispute 管理员裁决争议
func (ar *APIRoutes) ResolveDispute(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req struct {
		FavorCreator bool `json:"favor_creator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ar.pool.ResolveDispute(c.Request.Context(), addr, id, req.FavorCreator); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "favor_creator": req.FavorCreator})
}

// SetFeeRate 修改全局手续费率
func (ar *APIRoutes) SetFeeRate(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}

	var req struct {
		FeeRateBP uint64 `json:"fee_rate_bp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ar.pool.SetPlatformFeeRate(c.Request.Context(), addr, req.FeeRateBP); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_rate_bp": req.FeeRateBP})
}

// CollectFees 归集指定代币的平台手续费
func (ar *APIRoutes) CollectFees(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	collected, err := ar.pool.CollectPlatformFees(c.Request.Context(), addr, req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": req.Token, "collected": collected})
}

// EmergencyWithdraw 紧急提取（仅暂停状态下可用）
func (ar *APIRoutes) EmergencyWithdraw(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}

	var req struct {
		Token  string `json:"token" binding:"required"`
		Amount uint64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ar.pool.EmergencyWithdraw(c.Request.Context(), addr, req.Token, req.Amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": req.Token, "amount": req.Amount})
}

// GetCampaign 查询活动详情
func (ar *APIRoutes) GetCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	campaign, err := ar.pool.GetCampaign(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// GetBalance 查询活动资金台账
func (ar *APIRoutes) GetBalance(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	balance, err := ar.pool.GetBalance(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// GetProgress 查询筹款进度百分比
func (ar *APIRoutes) GetProgress(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	progress, err := ar.pool.FundingProgress(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "progress": progress})
}

// GetDonorList 查询活动捐款人列表
func (ar *APIRoutes) GetDonorList(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	donors, err := ar.pool.DonorList(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "donors": donors})
}

// GetDonorRecord 查询捐款人在某活动的台账
func (ar *APIRoutes) GetDonorRecord(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	record, err := ar.pool.GetDonorRecord(id, c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetCampaignInfo 活动综合信息
func (ar *APIRoutes) GetCampaignInfo(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	info, err := ar.pool.GetCampaignInfo(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetCreatorCampaigns 查询某地址发起的活动列表
func (ar *APIRoutes) GetCreatorCampaigns(c *gin.Context) {
	campaigns, err := ar.pool.CampaignsByCreator(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// GetDonorCampaigns 查询某地址捐过款的活动列表
func (ar *APIRoutes) GetDonorCampaigns(c *gin.Context) {
	campaigns, err := ar.pool.CampaignsByDonor(c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// GenerateQRCode 生成活动捐款页二维码
func (ar *APIRoutes) GenerateQRCode(c *gin.Context) {
	idStr := c.Query("campaign_id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign_id"})
		return
	}
	if _, err := ar.pool.GetCampaign(uint(id)); err != nil {
		fail(c, err)
		return
	}

	donateURL := fmt.Sprintf("https://%s/pay?campaign_id=%d", c.Request.Host, id)
	png, err := utils.GenerateQRCode(donateURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// BroadcastEvent 序列化台账事件并投入广播通道
func (ar *APIRoutes) BroadcastEvent(event string, payload map[string]interface{}) {
	message, err := json.Marshal(gin.H{
		"type": event,
		"data": payload,
		"time": utils.Now(),
	})
	if err != nil {
		log.Printf("Failed to marshal event %s: %v", event, err)
		return
	}

	select {
	case ar.broadcast <- message:
	default:
		log.Printf("Broadcast channel full, dropping event %s", event)
	}
}

// runWebSocketServer 运行WebSocket服务器
func (ar *APIRoutes) runWebSocketServer() {
	log.Printf("WebSocket服务器已启动")

	for {
		select {
		case client := <-ar.register:
			ar.mutex.Lock()
			ar.clients[client] = true
			clientCount := len(ar.clients)
			ar.mutex.Unlock()
			log.Printf("WebSocket客户端已连接，当前客户端数量: %d", clientCount)

		case client := <-ar.unregister:
			ar.mutex.Lock()
			if _, ok := ar.clients[client]; ok {
				delete(ar.clients, client)
				client.Close()
			}
			clientCount := len(ar.clients)
			ar.mutex.Unlock()
			log.Printf("WebSocket客户端已断开连接，当前客户端数量: %d", clientCount)

		case message := <-ar.broadcast:
			ar.mutex.Lock()
			for client := range ar.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("向客户端广播消息失败: %v", err)
					client.Close()
					delete(ar.clients, client)
				}
			}
			ar.mutex.Unlock()
		}
	}
}

// WebSocketHandler 处理WebSocket连接
func (ar *APIRoutes) WebSocketHandler(c *gin.Context) {
	// 升级HTTP连接为WebSocket连接
	conn, err := ar.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	connID := utils.GenerateConnID()
	log.Printf("WebSocket connection established: %s", connID)

	// 注册新客户端
	ar.register <- conn

	// 忽略客户端发送的消息，只处理服务器推送
	for {
		messageType, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", connID, err)
			}
			break
		}

		if messageType == websocket.PingMessage {
			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				break
			}
		}
	}

	// 注销客户端
	ar.unregister <- conn
}

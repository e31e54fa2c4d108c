package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/zhifu/funding-pool/routes"
	"github.com/zhifu/funding-pool/services"
	"github.com/zhifu/funding-pool/utils"
)

func main() {
	// 获取当前执行文件的目录
	execDir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		log.Fatalf("Failed to get exec dir: %v", err)
	}

	// 优先从当前工作目录加载配置文件
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		// 如果当前目录找不到，再尝试从执行文件目录查找
		viper.SetConfigFile(filepath.Join(execDir, "config.yaml"))
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
	}

	// 初始化数据库，台账服务离开存储无法运行，失败直接退出
	if err := utils.InitDatabase(
		viper.GetString("mysql.host"),
		viper.GetString("mysql.user"),
		viper.GetString("mysql.password"),
		viper.GetString("mysql.dbname"),
		viper.GetInt("mysql.port"),
	); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := utils.MigrateDatabase(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// 代币网关客户端
	tokenGateway := services.NewTokenGateway(services.TokenGatewayConfig{
		APIURL:    viper.GetString("gateway.api_url"),
		VendorSN:  viper.GetString("gateway.vendor_sn"),
		VendorKey: viper.GetString("gateway.vendor_key"),
	})

	// 平台边界参数
	limits := services.Limits{
		MinFundingPeriod: viper.GetInt64("funding.min_period_hours") * 3600,
		MaxFundingPeriod: viper.GetInt64("funding.max_period_hours") * 3600,
		MinFundingGoal:   viper.GetUint64("funding.min_goal"),
		DefaultFeeRateBP: viper.GetUint64("funding.default_fee_rate_bp"),
		MaxFeeRateBP:     viper.GetUint64("funding.max_fee_rate_bp"),
		RefundGrace:      viper.GetInt64("funding.refund_grace_hours") * 3600,
	}

	// 权限判定从配置注入，核心逻辑与身份方案解耦
	adminSet := make(map[string]bool)
	for _, addr := range viper.GetStringSlice("admin.addresses") {
		adminSet[addr] = true
	}
	ownerAddr := viper.GetString("owner.address")

	poolService, err := services.NewPoolService(
		utils.DB,
		tokenGateway,
		limits,
		func(addr string) bool { return adminSet[addr] },
		func(addr string) bool { return addr == ownerAddr },
	)
	if err != nil {
		log.Fatalf("Failed to init pool service: %v", err)
	}

	// 设置 GIN 为生产模式
	gin.SetMode(gin.ReleaseMode)

	// 初始化路由，使用自定义中间件
	router := gin.New()

	// 设置可信代理，消除安全警告
	router.SetTrustedProxies([]string{"127.0.0.1"})

	// 添加必要的中间件
	router.Use(gin.Recovery())

	// 添加gzip压缩中间件
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 添加安全头部和CORS中间件
	router.Use(func(c *gin.Context) {
		// 安全头部
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")

		// CORS配置
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Caller-Address")

		// 处理OPTIONS请求
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 初始化 API 路由
	apiRoutes := routes.NewAPIRoutes(poolService)
	apiRoutes.SetupRoutes(router)

	// 配置 HTTP 服务器
	port := viper.GetInt("server.port")
	addr := fmt.Sprintf(":%d", port) // 监听所有网络接口

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Server running on http://localhost%s", addr)
	log.Printf("Server mode: %s", gin.Mode())

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

package routes

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/services"
	"github.com/zhifu/donation-flow/utils"
	"gorm.io/gorm"
)

// RestorationCookie 捐赠人跨标签页共用的恢复键
const RestorationCookie = "donation_restore"

const restorationCookieMaxAge = 30 * 24 * 3600

// APIRoutes API路由
type APIRoutes struct {
	cfg      services.Config
	db       *gorm.DB
	store    services.RestorationStore
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*PageSession
}

// NewAPIRoutes 创建API路由；db 为 nil 时不写捐款流水
func NewAPIRoutes(cfg services.Config, db *gorm.DB, store services.RestorationStore) *APIRoutes {
	return &APIRoutes{
		cfg:   cfg,
		db:    db,
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的WebSocket连接
			},
		},
		sessions: make(map[string]*PageSession),
	}
}

// SetupRoutes 设置路由
func (ar *APIRoutes) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/config", ar.GetPaymentConfig)
		api.GET("/fee", ar.GetFee)
		api.GET("/upsell", ar.GetUpsellSuggestion)
	}

	router.GET("/qrcode", ar.GenerateQRCode)
	router.GET("/ws", ar.WebSocketHandler)
	router.GET("/healthz", ar.Health)
}

// SecurityHeaders 安全头部和CORS中间件
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 安全头部
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")

		// CORS配置
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// 处理OPTIONS请求
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// GetPaymentConfig 页面初始化需要的公开配置
func (ar *APIRoutes) GetPaymentConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fees":             ar.cfg.Fees,
		"hostedFields":     ar.cfg.HostedFields,
		"googlePay":        gin.H{"environment": ar.cfg.GooglePay.Environment},
		"venmoEnabled":     ar.cfg.Venmo.ProfileID != "",
		"applePayLabel":    ar.cfg.ApplePay.DisplayName,
		"paypalUpsell":     ar.cfg.PayPal.UpsellContainer,
		"recaptchaEnabled": ar.cfg.RecaptchaEnabled,
		"minAmount":        models.MinAmount,
		"maxAmount":        models.MaxAmount,
	})
}

// GetFee 计算手续费和实际扣款金额
func (ar *APIRoutes) GetFee(c *gin.Context) {
	amount, err := models.ParseAmount(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coverFees, _ := strconv.ParseBool(c.DefaultQuery("coverFees", "true"))

	d := models.DonationAmount{DonationType: models.DonationOneTime, Amount: amount, CoverFees: coverFees}
	c.JSON(http.StatusOK, gin.H{
		"amount":     d.Amount,
		"fee":        d.Fee(ar.cfg.Fees),
		"coveredFee": d.CoveredFee(ar.cfg.Fees),
		"total":      d.Total(ar.cfg.Fees),
	})
}

// GetUpsellSuggestion 单次捐款对应的推荐月捐金额
func (ar *APIRoutes) GetUpsellSuggestion(c *gin.Context) {
	amount, err := models.ParseAmount(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"oneTimeAmount":   amount,
		"suggestedAmount": services.SuggestUpsell(amount),
	})
}

// GenerateQRCode 生成捐款页面二维码，用于桌面浏览器转到手机上完成 Venmo 支付
func (ar *APIRoutes) GenerateQRCode(c *gin.Context) {
	text := c.Query("url")
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required parameters"})
		return
	}
	size, _ := strconv.Atoi(c.Query("size"))

	qrBytes, err := utils.GenerateQRCode(text, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "image/png")
	c.Writer.Write(qrBytes)
}

// Health 健康检查
func (ar *APIRoutes) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": ar.SessionCount(),
		"database": ar.db != nil,
	})
}

// SessionCount 当前打开的页面会话数
func (ar *APIRoutes) SessionCount() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.sessions)
}

// WebSocketHandler 捐款页面会话：页面SDK事件进来，弹窗和SDK调用出去
func (ar *APIRoutes) WebSocketHandler(c *gin.Context) {
	restoreKey, err := c.Cookie(RestorationCookie)
	header := http.Header{}
	if err != nil || restoreKey == "" {
		restoreKey = utils.GenerateConnID()
		cookie := &http.Cookie{
			Name:     RestorationCookie,
			Value:    restoreKey,
			Path:     "/",
			MaxAge:   restorationCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		header.Add("Set-Cookie", cookie.String())
	}

	// 升级HTTP连接为WebSocket连接
	conn, err := ar.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	info := services.SessionInfo{
		RestorationKey: restoreKey,
		Referrer:       c.Request.Referer(),
		LoggedInUser:   c.Query("user"),
		UserAgent:      c.Request.UserAgent(),
		PageURL:        c.Query("page"),
	}
	ar.serve(conn, info)
}

// serve 运行一个页面会话直到连接断开
func (ar *APIRoutes) serve(conn wsConn, info services.SessionInfo) {
	page := NewPageSession(context.Background(), conn)
	transport := services.NewDonationTransport(ar.cfg.Transport, ar.db, page)
	checkout := services.NewCheckout(services.CheckoutDeps{
		Config:      ar.cfg,
		Session:     info,
		Loader:      page.LoadGateway,
		Presenter:   page,
		Feedback:    page,
		Challenge:   page,
		Completion:  transport,
		Restoration: ar.store,
	})
	BindCheckout(page, checkout)

	ar.mu.Lock()
	ar.sessions[page.ID()] = page
	ar.mu.Unlock()
	log.Printf("DEBUG: page session %s opened (%s)", page.ID(), info.UserAgent)

	start := time.Now()
	page.Run()

	ar.mu.Lock()
	delete(ar.sessions, page.ID())
	ar.mu.Unlock()
	log.Printf("DEBUG: page session %s closed after %s", page.ID(), time.Since(start).Round(time.Second))
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trade-router-go/config"
	"trade-router-go/infrastructure/logger"
	"trade-router-go/infrastructure/monitor"
	"trade-router-go/internal/pubsub"
	"trade-router-go/internal/queue"
	"trade-router-go/internal/store"
	"trade-router-go/order"
)

// Server 对外接入层：下单、查单、健康上报与状态订阅。
type Server struct {
	cfg   config.ServerConfig
	store store.Store
	queue *queue.Queue
	pub   *pubsub.Publisher
	log   *logger.Logger
	mon   *monitor.Monitor

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer 创建接入层服务。
func NewServer(cfg config.ServerConfig, st store.Store, q *queue.Queue, pub *pubsub.Publisher, log *logger.Logger, mon *monitor.Monitor) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		cfg:   cfg,
		store: st,
		queue: q,
		pub:   pub,
		log:   log,
		mon:   mon,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router 组装路由。
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/orders", s.createOrder)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/health", s.health)
		api.GET("/ws/orders/:id", s.subscribeOrder)
	}
	if s.mon != nil {
		r.GET("/metrics", gin.WrapH(s.mon.Handler()))
	}
	return r
}

// Start 在独立 goroutine 里启动 HTTP 服务。
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.LogError(err, map[string]interface{}{"action": "http_listen"})
		}
	}()
	s.log.Info("http server started")
	return nil
}

// Shutdown 优雅停机。
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type createOrderRequest struct {
	TokenIn   string  `json:"tokenIn" binding:"required"`
	TokenOut  string  `json:"tokenOut" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	OrderType string  `json:"orderType" binding:"required"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	typ := order.Type(req.OrderType)
	if !order.ValidType(typ) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown orderType: " + req.OrderType})
		return
	}
	// 条件单只接收定义，不排进执行流水线
	if typ != order.TypeImmediate {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "only IMMEDIATE orders are executable"})
		return
	}

	o := &order.Order{
		ID:       uuid.NewString(),
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		Amount:   req.Amount,
		Type:     typ,
		Status:   order.StatusPending,
	}
	if err := s.store.Create(c.Request.Context(), o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist order failed"})
		return
	}
	if _, err := s.queue.Enqueue(c.Request.Context(), queue.Job{
		ID:        o.ID,
		TokenIn:   o.TokenIn,
		TokenOut:  o.TokenOut,
		Amount:    o.Amount,
		OrderType: string(o.Type),
	}); err != nil {
		// 入队失败时订单不能被静默吞掉，标记失败并把错误交还调用方
		o.Status = order.StatusFailed
		o.FailReason = "enqueue failed: " + err.Error()
		s.store.Update(c.Request.Context(), o)
		s.log.LogError(err, map[string]interface{}{"action": "enqueue", "order_id": o.ID})
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable", "orderId": o.ID})
		return
	}

	if s.mon != nil {
		s.mon.RecordOrderCreated()
	}
	s.log.LogOrder("order_accepted", o.ID, map[string]interface{}{
		"token_in":  o.TokenIn,
		"token_out": o.TokenOut,
		"amount":    o.Amount,
	})
	c.JSON(http.StatusAccepted, o)
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.store.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) health(c *gin.Context) {
	m := s.queue.GetMetrics()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"queue": gin.H{
			"waiting":   m.Waiting,
			"active":    m.Active,
			"delayed":   m.Delayed,
			"completed": m.Completed,
			"failed":    m.Failed,
		},
		"activeConnections": s.pub.Count(),
	})
}

// subscribeOrder 把连接升级为 WebSocket 并挂到订单的状态流上。
// 升级成功后先推一条当前状态快照，再进入读循环等待对端断开。
func (s *Server) subscribeOrder(c *gin.Context) {
	id := c.Param("id")
	o, err := s.store.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了响应
		s.log.LogError(err, map[string]interface{}{"action": "ws_upgrade", "order_id": id})
		return
	}

	sub := pubsub.NewWSSubscriber(conn)
	s.pub.Register(id, sub)

	if err := sub.Send(order.SnapshotUpdate(o, time.Now())); err != nil {
		s.pub.Release(id, sub)
		return
	}

	// 读循环只为感知断连，订阅方向上不处理任何入站消息
	go func() {
		defer s.pub.Release(id, sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

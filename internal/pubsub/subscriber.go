package pubsub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trade-router-go/order"
)

const writeWait = 10 * time.Second

// WSSubscriber 把一条 WebSocket 连接适配成订阅者。
// gorilla 的连接同一时刻只允许一个写者，用写锁串行化。
type WSSubscriber struct {
	conn *websocket.Conn

	wmu    sync.Mutex
	once   sync.Once
	closed bool
}

// NewWSSubscriber 包装已完成升级的连接。
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{conn: conn}
}

// Send 把状态消息以 JSON 帧写出。
func (s *WSSubscriber) Send(u order.StatusUpdate) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(u)
}

// Close 发送关闭帧后断开连接，重复调用无害。
func (s *WSSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		s.wmu.Lock()
		s.closed = true
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.wmu.Unlock()
		err = s.conn.Close()
	})
	return err
}

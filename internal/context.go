package internal

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"weave/internal/builtin"
)

//#region service context

// ServiceContext is the request object handed to controller scripts.
type ServiceContext struct {
	request        *http.Request
	responseWriter http.ResponseWriter
	timer          *time.Timer
	returnless     bool
	body           interface{} // 用于缓存请求消息体，防止重复读取和关闭 body 流
}

func (s *ServiceContext) GetHeader() map[string]string {
	var headers = make(map[string]string)
	for name, values := range s.request.Header {
		for _, value := range values {
			headers[name] = value
		}
	}
	return headers
}

func (s *ServiceContext) GetURL() interface{} {
	u := s.request.URL

	var params = make(map[string][]string)
	for name, values := range u.Query() {
		params[name] = values
	}

	return map[string]interface{}{
		"path":   u.Path,
		"params": params,
	}
}

func (s *ServiceContext) GetBody() (builtin.Buffer, error) {
	if s.body != nil {
		return s.body.([]byte), nil
	}
	defer s.request.Body.Close()
	return io.ReadAll(s.request.Body)
}

func (s *ServiceContext) GetMethod() string {
	return s.request.Method
}

func (s *ServiceContext) GetForm() interface{} {
	s.request.ParseForm() // 需要转换后才能获取表单

	var params = make(map[string][]string)
	for name, values := range s.request.Form {
		params[name] = values
	}

	return params
}

func (s *ServiceContext) UpgradeToWebSocket() (*ServiceWebSocket, error) {
	s.returnless = true // upgrader.Upgrade 内部已经调用过 WriteHeader 方法，后续不应再次调用
	s.timer.Stop()      // 关闭定时器，WebSocket 不需要设置超时时间
	upgrader := websocket.Upgrader{}
	if conn, err := upgrader.Upgrade(s.responseWriter, s.request, nil); err != nil {
		return nil, err
	} else {
		return &ServiceWebSocket{
			connection: conn,
		}, nil
	}
}

func (s *ServiceContext) Write(data []byte) (int, error) {
	s.returnless = true
	return s.responseWriter.Write(data)
}

func (s *ServiceContext) ResetTimeout(timeout int) {
	// For a Timer created with NewTimer, Reset should be invoked only on
	// stopped or expired timers with drained channels.
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	if timeout > 0 {
		_ = s.timer.Reset(time.Duration(timeout) * time.Millisecond)
	}
}

func CreateServiceContext(r *http.Request, w http.ResponseWriter, t *time.Timer) *ServiceContext {
	return &ServiceContext{
		request:        r,
		responseWriter: w,
		timer:          t,
	}
}

func Returnless(ctx *ServiceContext) bool {
	return ctx.returnless
}

//#endregion

//#region service websocket

type ServiceWebSocket struct {
	connection *websocket.Conn
}

func (s *ServiceWebSocket) Read() (interface{}, error) {
	messageType, data, err := s.connection.ReadMessage()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"messageType": messageType,
		"data":        builtin.Buffer(data),
	}, nil
}

func (s *ServiceWebSocket) Send(data []byte) error {
	return s.connection.WriteMessage(1, data) // 1 即 websocket.TextMessage，表示消息是文本格式
}

func (s *ServiceWebSocket) Close() {
	s.connection.Close()
}

//#endregion

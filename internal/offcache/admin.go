package offcache

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// AdminHandler exposes the control channel over HTTP for the admin
// panel, plus the prometheus endpoint. It runs on a separate listener so
// the data path stays a plain passthrough surface.
func (s *Service) AdminHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.POST("/control/skip-waiting", func(c echo.Context) error {
		s.Post(Message{Type: MsgSkipWaiting})
		return c.NoContent(http.StatusAccepted)
	})

	e.POST("/control/clear-cache", func(c echo.Context) error {
		reply, ok := s.postAndWait(MsgClearCache)
		if !ok {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "control channel timeout"})
		}
		return c.JSON(http.StatusOK, reply)
	})

	e.GET("/control/stats", func(c echo.Context) error {
		reply, ok := s.postAndWait(MsgCacheStats)
		if !ok {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "control channel timeout"})
		}
		return c.JSON(http.StatusOK, reply)
	})

	e.GET("/control/lifecycle", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"state": s.lifecycle.State().String()})
	})

	e.GET("/metrics", echo.WrapHandler(s.metrics.handler()))

	return e
}

func (s *Service) postAndWait(msgType string) (any, bool) {
	reply := make(chan any, 1)
	s.Post(Message{Type: msgType, Reply: reply})
	select {
	case v := <-reply:
		return v, true
	case <-time.After(10 * time.Second):
		return nil, false
	case <-s.stopCh:
		return nil, false
	}
}

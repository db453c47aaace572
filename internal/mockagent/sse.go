package mockagent

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yubzen/phonepilot/internal/stream"
)

type sseWriter struct {
	w gin.ResponseWriter
}

func startSSE(c *gin.Context) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	return &sseWriter{w: c.Writer}
}

func (s *sseWriter) frame(kind stream.Kind, payload any) error {
	data, err := stream.Encode(kind, payload)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *sseWriter) raw(text string) error {
	return s.write([]byte(text))
}

func (s *sseWriter) keepAlive() error {
	return s.write(stream.KeepAlive())
}

func (s *sseWriter) write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// Package httpapi implements the Control API (§4.9, §6): a thin gin
// surface over the broker/catalog/eventlog/queue/registry packages. It
// owns no state of its own and makes no scheduling decisions — every
// handler is a direct translation of one HTTP call into the corresponding
// package call. Grounded on the teacher's internal/http package: the same
// Server/NewRouter/RouterConfig split, generalized from a large
// feature-handler fan-out to the ten-endpoint surface named in §6.
package httpapi

import "github.com/gin-gonic/gin"

type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	return s.Engine.Run(address)
}

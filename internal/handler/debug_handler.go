package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/libragent/internal/pkg/response"
)

const healthTimeout = 15 * time.Second

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type componentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// DebugHandler reports backend reachability. Checks run concurrently.
type DebugHandler struct {
	checks  map[string]HealthChecker
	vectors Counter
}

func NewDebugHandler(checks map[string]HealthChecker, vectors Counter) *DebugHandler {
	return &DebugHandler{checks: checks, vectors: vectors}
}

func (h *DebugHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make([]componentStatus, 0, len(h.checks))
	)
	for name, checker := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := componentStatus{Name: name, Healthy: true}
			if err := checker.HealthCheck(ctx); err != nil {
				st.Healthy = false
				st.Error = err.Error()
			}
			mu.Lock()
			out = append(out, st)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	healthy := true
	for _, st := range out {
		healthy = healthy && st.Healthy
	}
	data := gin.H{"healthy": healthy, "components": out}
	if h.vectors != nil {
		if n, err := h.vectors.Count(ctx); err == nil {
			data["vector_count"] = n
		}
	}
	response.Success(c, data)
}

package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"restoerp/server/internal/utils"
)

// ConversionEdge - ребро графа: 1 From = Factor To
type ConversionEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Factor float64 `json:"factor"`
}

type graphNeighbor struct {
	to     string
	factor float64
}

// ConversionGraph - неориентированный граф единиц тенанта.
// Вес ребра в одну сторону Factor, в обратную 1/Factor
type ConversionGraph struct {
	Edges []ConversionEdge `json:"edges"`

	once sync.Once
	adj  map[string][]graphNeighbor
}

// NewConversionGraph строит граф по списку записей конвертаций
func NewConversionGraph(edges []ConversionEdge) *ConversionGraph {
	return &ConversionGraph{Edges: edges}
}

func (g *ConversionGraph) adjacency() map[string][]graphNeighbor {
	g.once.Do(func() {
		adj := make(map[string][]graphNeighbor)
		seen := make(map[[2]string]bool)
		add := func(from, to string, factor float64) {
			key := [2]string{from, to}
			if seen[key] {
				return
			}
			seen[key] = true
			adj[from] = append(adj[from], graphNeighbor{to: to, factor: factor})
		}
		for _, e := range g.Edges {
			if e.Factor <= 0 || e.From == e.To {
				continue
			}
			add(e.From, e.To, e.Factor)
			add(e.To, e.From, 1/e.Factor)
		}
		g.adj = adj
	})
	return g.adj
}

// Reach - результат обхода: составной коэффициент и длина пути
type Reach struct {
	Factor float64
	Depth  int
}

// Reachable обходит граф в ширину от start и перемножает веса ребер по пути.
// Каждая вершина фиксируется по кратчайшему пути, поэтому прямые ребра
// (глубина 1) всегда побеждают косвенные пути к той же единице
func (g *ConversionGraph) Reachable(start string) map[string]Reach {
	adj := g.adjacency()
	result := make(map[string]Reach)
	visited := map[string]bool{start: true}
	queue := []string{start}
	factors := map[string]Reach{start: {Factor: 1, Depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		base := factors[current]
		for _, n := range adj[current] {
			if visited[n.to] {
				continue
			}
			visited[n.to] = true
			r := Reach{Factor: base.Factor * n.factor, Depth: base.Depth + 1}
			factors[n.to] = r
			result[n.to] = r
			queue = append(queue, n.to)
		}
	}
	return result
}

// Factor возвращает множитель from -> to по любому пути
func (g *ConversionGraph) Factor(from, to string) (float64, bool) {
	if from == to {
		return 1, true
	}
	r, ok := g.Reachable(from)[to]
	if !ok {
		return 0, false
	}
	return r.Factor, true
}

// ConversionGraphCache хранит графы конвертаций по тенантам.
// Инвалидируется при создании и удалении конвертаций
type ConversionGraphCache interface {
	Get(ctx context.Context, tenantID string) (*ConversionGraph, bool)
	Set(ctx context.Context, tenantID string, graph *ConversionGraph)
	Invalidate(ctx context.Context, tenantID string)
}

// MemoryGraphCache - кэш графов в памяти процесса.
// Записи живут ttl: конвертации, измененные другим инстансом, подхватываются не позже
type MemoryGraphCache struct {
	mu     sync.RWMutex
	graphs map[string]cachedGraph
	ttl    time.Duration
	now    func() time.Time
}

type cachedGraph struct {
	graph     *ConversionGraph
	expiresAt time.Time
}

func NewMemoryGraphCache() *MemoryGraphCache {
	return &MemoryGraphCache{
		graphs: make(map[string]cachedGraph),
		ttl:    10 * time.Minute,
		now:    time.Now,
	}
}

func (c *MemoryGraphCache) Get(_ context.Context, tenantID string) (*ConversionGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.graphs[tenantID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.graph, true
}

func (c *MemoryGraphCache) Set(_ context.Context, tenantID string, graph *ConversionGraph) {
	c.mu.Lock()
	c.graphs[tenantID] = cachedGraph{graph: graph, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryGraphCache) Invalidate(_ context.Context, tenantID string) {
	c.mu.Lock()
	delete(c.graphs, tenantID)
	c.mu.Unlock()
}

// RedisGraphCache хранит ребра графа в Redis, чтобы все инстансы сервера
// видели одну и ту же инвалидацию
type RedisGraphCache struct {
	redis  *utils.RedisClient
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewRedisGraphCache(redis *utils.RedisClient, ttl time.Duration) *RedisGraphCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGraphCache{redis: redis, ttl: ttl, logger: zap.S()}
}

func graphCacheKey(tenantID string) string {
	return "uom_graph:" + tenantID
}

func (c *RedisGraphCache) Get(ctx context.Context, tenantID string) (*ConversionGraph, bool) {
	var edges []ConversionEdge
	if err := c.redis.GetJSON(ctx, graphCacheKey(tenantID), &edges); err != nil {
		if !utils.IsNil(err) {
			c.logger.Warnf("⚠️ Не удалось прочитать граф конвертаций из Redis (tenant %s): %v", tenantID, err)
		}
		return nil, false
	}
	return NewConversionGraph(edges), true
}

func (c *RedisGraphCache) Set(ctx context.Context, tenantID string, graph *ConversionGraph) {
	if err := c.redis.Set(ctx, graphCacheKey(tenantID), graph.Edges, c.ttl); err != nil {
		c.logger.Warnf("⚠️ Не удалось сохранить граф конвертаций в Redis (tenant %s): %v", tenantID, err)
	}
}

func (c *RedisGraphCache) Invalidate(ctx context.Context, tenantID string) {
	if err := c.redis.Delete(ctx, graphCacheKey(tenantID)); err != nil {
		c.logger.Warnf("⚠️ Не удалось сбросить граф конвертаций в Redis (tenant %s): %v", tenantID, err)
	}
}

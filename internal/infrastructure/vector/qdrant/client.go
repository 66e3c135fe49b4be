package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// upsertBatchSize bounds a single points request.
const upsertBatchSize = 256

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// PointID derives a stable point id from the item key so re-indexing an item
// overwrites its previous vector.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// IndexItems upserts every embedded item. Items without a vector are skipped.
func (c *Client) IndexItems(ctx context.Context, items []domain.MenuItem) error {
	points := make([]point, 0, len(items))
	vectorSize := 0
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		if vectorSize == 0 {
			vectorSize = len(item.Embedding)
		}
		if len(item.Embedding) != vectorSize {
			return fmt.Errorf("qdrant index: item %s has %d dimensions, expected %d", item, len(item.Embedding), vectorSize)
		}
		key := item.Key()
		points = append(points, point{
			ID:     PointID(key),
			Vector: item.Embedding,
			Payload: map[string]any{
				"item_key":     key,
				"name":         item.Name,
				"dining_hall":  strings.ToLower(item.DiningHall),
				"meal_period":  strings.ToLower(item.MealPeriod),
				"serving_date": domain.DateOnly(item.ServingDate).Format(domain.DateLayout),
				"allergens":    domain.NormalizeAllergens(item.Allergens),
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := c.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		if err := c.send(ctx, http.MethodPut, url, map[string]any{"points": points[start:end]}, nil); err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
	}
	return nil
}

// SearchItems runs a filtered nearest-neighbour query and resolves hits
// against the pinned snapshot. Hits the snapshot does not know, or that fall
// outside scope, are dropped.
func (c *Client) SearchItems(
	ctx context.Context,
	snap *catalog.Snapshot,
	vector []float32,
	limit int,
	scope domain.SearchScope,
) ([]catalog.ScoredItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": []string{"item_key"},
	}
	if filter := scopeFilter(scope); filter != nil {
		reqBody["filter"] = filter
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.send(ctx, http.MethodPost, url, reqBody, &searchResp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]domain.ItemHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		key := getStringPayload(r.Payload, "item_key")
		if key == "" {
			continue
		}
		hits = append(hits, domain.ItemHit{Key: key, Score: r.Score})
	}

	resolved := snap.Resolve(hits)
	out := resolved[:0]
	for _, scored := range resolved {
		if catalog.InScope(scored.Item, scope) && len(scored.Item.Embedding) > 0 {
			out = append(out, scored)
		}
	}
	catalog.SortByScore(out)
	return out, nil
}

// scopeFilter pushes exact allergen matches down to qdrant. Containment
// matches ("nuts" against "tree nut") are removed afterwards by InScope.
func scopeFilter(scope domain.SearchScope) map[string]any {
	var must, mustNot []map[string]any
	if len(scope.DiningHalls) > 0 {
		must = append(must, matchAny("dining_hall", lowerAll(scope.DiningHalls)))
	}
	if len(scope.MealPeriods) > 0 {
		must = append(must, matchAny("meal_period", lowerAll(scope.MealPeriods)))
	}
	if !scope.ServingDate.IsZero() {
		must = append(must, map[string]any{
			"key":   "serving_date",
			"match": map[string]any{"value": domain.DateOnly(scope.ServingDate).Format(domain.DateLayout)},
		})
	}
	if allergens := domain.NormalizeAllergens(scope.ExcludeAllergens); len(allergens) > 0 {
		mustNot = append(mustNot, matchAny("allergens", allergens))
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	filter := map[string]any{}
	if len(must) > 0 {
		filter["must"] = must
	}
	if len(mustNot) > 0 {
		filter["must_not"] = mustNot
	}
	return filter
}

func matchAny(key string, values []string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"any": values}}
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.send(ctx, http.MethodPut, url, reqBody, nil)
	// 409 when the collection already exists.
	var statusErr *statusError
	if err != nil && !(asStatusError(err, &statusErr) && statusErr.code == http.StatusConflict) {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func (c *Client) send(ctx context.Context, method, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.WrapError(domain.ErrServiceUnavailable, "qdrant request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		statusErr := &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(msg))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.WrapError(domain.ErrServiceUnavailable, "qdrant request", statusErr)
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

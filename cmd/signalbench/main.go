package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result 记录单次请求的 HTTP 结果与回执状态，便于聚合统计。
type Result struct {
	Status  int
	Receipt string
	Err     error
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.String("product", "", "product id (empty: create a fresh product)")

	// 乱序测试参数：n 条价格观测打乱顺序并发投递，最终价格必须等于最新那条
	n := flag.Int("n", 200, "number of price observations")
	concurrency := flag.Int("c", 50, "max concurrency")
	crawlers := flag.Int("crawlers", 4, "distinct X-Crawler-ID values")
	wait := flag.Duration("wait", 15*time.Second, "how long to wait for async pipeline to converge")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	id := *productID
	if id == "" {
		created, err := createProduct(client, *baseURL)
		if err != nil {
			fmt.Println("create product failed:", err)
			os.Exit(1)
		}
		id = created
		fmt.Println("created product", id)
	}

	fmt.Printf("start out-of-order test: product=%s observations=%d concurrency=%d crawlers=%d\n", id, *n, *concurrency, *crawlers)
	start := time.Now()
	results := runSignals(client, *baseURL, id, *n, *concurrency, *crawlers)
	fmt.Printf("sent in %s\n", time.Since(start).Round(time.Millisecond))
	printSummary("signals", results)

	want := float64(*n)
	deadline := time.Now().Add(*wait)
	for {
		price, score, err := getProduct(client, *baseURL, id)
		if err != nil {
			fmt.Println("product check err:", err)
			os.Exit(1)
		}
		if price == want {
			fmt.Printf("PASS final price=%.0f score=%.1f\n", price, score)
			return
		}
		if time.Now().After(deadline) {
			fmt.Printf("FAIL final price=%.0f want=%.0f score=%.1f\n", price, want, score)
			os.Exit(1)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func runSignals(client *http.Client, baseURL, productID string, n, concurrency, crawlers int) []Result {
	type Req struct {
		RequestID  string    `json:"request_id"`
		ProductID  string    `json:"product_id"`
		Kind       string    `json:"kind"`
		ObservedAt time.Time `json:"observed_at"`
		Price      float64   `json:"price"`
	}

	base := time.Now().UTC().Add(-time.Duration(n) * time.Second)
	order := rand.Perm(n)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, n)

	for i, obs := range order {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx, obs int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := Req{
				RequestID:  uuid.New().String(),
				ProductID:  productID,
				Kind:       "price",
				ObservedAt: base.Add(time.Duration(obs) * time.Second),
				Price:      float64(obs + 1),
			}
			crawler := fmt.Sprintf("bench-%d", idx%max(crawlers, 1))
			results[idx] = postSignal(client, baseURL, crawler, req)
		}(i, obs)
	}

	wg.Wait()
	return results
}

func postSignal(client *http.Client, baseURL, crawler string, req any) Result {
	b, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/signals", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Crawler-ID", crawler)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	out := Result{Status: resp.StatusCode}
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Success {
		var receipt struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(env.Data, &receipt) == nil {
			out.Receipt = receipt.Status
		}
	}
	return out
}

// printSummary 聚合输出状态码与回执状态分布。
func printSummary(name string, results []Result) {
	codes := map[int]int{}
	receipts := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		codes[r.Status]++
		if r.Receipt != "" {
			receipts[r.Receipt]++
		}
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{202, 400, 404, 409, 429, 500} {
		if codes[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, codes[code])
		}
	}
	for _, s := range []string{"applied", "stale", "queued", "duplicate"} {
		if receipts[s] > 0 {
			fmt.Printf("  %s -> %d\n", s, receipts[s])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func createProduct(client *http.Client, baseURL string) (string, error) {
	b, _ := json.Marshal(map[string]any{
		"title":           "Signal bench product",
		"category":        "gadgets",
		"price":           1,
		"supplier_prices": map[string]float64{"bench": 1},
	})
	resp, err := client.Post(baseURL+"/api/products", "application/json", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", err
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// getProduct 查询当前价格与评分，用于校验乱序更新后是否收敛到最新观测。
func getProduct(client *http.Client, baseURL, productID string) (float64, float64, error) {
	resp, err := client.Get(baseURL + "/api/products/" + productID)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return 0, 0, err
	}
	var p struct {
		Price float64 `json:"price"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return 0, 0, err
	}
	return p.Price, p.Score, nil
}

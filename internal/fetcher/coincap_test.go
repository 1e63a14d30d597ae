package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCoinCapFetchBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") == "" {
			t.Fatal("请求应包含 ids 参数")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"id": "bitcoin", "priceUsd": "50000", "changePercent24Hr": "2.1", "marketCapUsd": "1000", "volumeUsd24Hr": "500"},
			},
		})
	}))
	defer srv.Close()

	c := NewCoinCap(CoinCapOptions{
		BaseURL: srv.URL,
		IDs:     map[string]string{"BTC": "bitcoin"},
		Timeout: time.Second,
	}, noopLogger())

	records, err := c.FetchBatch(context.Background(), []string{"BTC"})
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	record, ok := records["BTC"]
	if !ok {
		t.Fatal("应包含 BTC 记录")
	}
	if record.MarketCapUSD != 1000 || record.Volume24hUSD != 500 {
		t.Fatalf("市值/成交量解析不正确: %+v", record)
	}
}

func TestCoinCapFetchBatchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCoinCap(CoinCapOptions{
		BaseURL: srv.URL,
		IDs:     map[string]string{"BTC": "bitcoin"},
		Timeout: time.Second,
	}, noopLogger())

	if _, err := c.FetchBatch(context.Background(), []string{"BTC"}); err == nil {
		t.Fatal("HTTP 502 应返回错误")
	}
}

package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/text2sql/pkg/utils"
)

func TestHashEmbedder_Embed(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(256)
	if e.Dimensions() != 256 {
		t.Fatalf("Dimensions() = %d", e.Dimensions())
	}

	a, err := e.Embed(ctx, "统计每个城市的用户数量")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "统计每个城市的用户数量")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be deterministic")
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("embedding should be unit length, got norm^2 %v", norm)
	}

	users, _ := e.Embed(ctx, "# Table: users 用户 city 城市")
	orders, _ := e.Embed(ctx, "# Table: orders 订单 payment_amount 金额")
	if utils.CosineDistance(a, users) >= utils.CosineDistance(a, orders) {
		t.Error("query about cities and users should be closer to the users table")
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(0)
	v, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 384 {
		t.Errorf("default dimensions: got %d", len(v))
	}
	batch, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil || len(batch) != 2 {
		t.Errorf("EmbedBatch: %v, %d", err, len(batch))
	}
}

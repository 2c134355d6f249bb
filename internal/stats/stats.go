// Package stats は支払い履歴とダッシュボードの集計を提供する。
package stats

import (
	"sort"
	"time"

	"github.com/hitoshi/buildia/internal/model"
)

// MonthlyTotal は月ごとの支払額の合計。チャート表示用。
type MonthlyTotal struct {
	Label string  `json:"month"`
	Total float64 `json:"amount"`
}

// MonthlyTotals は支払いレコードを月単位で集計し、時系列順に返す。
// 支払日が未設定、または支払額が0以下のレコードは集計から除外する。
func MonthlyTotals(payments []model.Payment) []MonthlyTotal {
	buckets := make(map[time.Time]float64)
	for _, p := range payments {
		if p.PaymentDate.IsZero() || p.PaidAmount <= 0 {
			continue
		}
		month := time.Date(p.PaymentDate.Year(), p.PaymentDate.Month(), 1, 0, 0, 0, 0, time.UTC)
		buckets[month] += p.PaidAmount
	}

	months := make([]time.Time, 0, len(buckets))
	for month := range buckets {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	totals := make([]MonthlyTotal, 0, len(months))
	for _, month := range months {
		totals = append(totals, MonthlyTotal{
			Label: month.Format("Jan 2006"),
			Total: buckets[month],
		})
	}
	return totals
}

// Percentages はダッシュボードの割合表示値。
type Percentages struct {
	AvailablePct   float64 `json:"availablePercentage"`
	UnavailablePct float64 `json:"unavailablePercentage"`
}

// RoomPercentages は空室・入居済みの割合を計算する。
// 総戸数が0の場合は0%を返す（ゼロ除算の防止）。
func RoomPercentages(s model.DashboardStats) Percentages {
	if s.TotalRooms == 0 {
		return Percentages{}
	}
	return Percentages{
		AvailablePct:   float64(s.AvailableRooms) / float64(s.TotalRooms) * 100,
		UnavailablePct: float64(s.UnavailableRooms) / float64(s.TotalRooms) * 100,
	}
}

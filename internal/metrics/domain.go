package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flexiid"

var (
	// CardsRendered 按渲染器与正反面统计成功渲染的图片数。
	CardsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "card",
			Name:      "rendered_total",
			Help:      "成功渲染的工牌图片数量。",
		},
		[]string{"renderer", "side"},
	)

	// CardRenderDuration 记录单面渲染耗时。
	CardRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "card",
			Name:      "render_duration_seconds",
			Help:      "单面工牌渲染耗时分布（秒）。",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"renderer"},
	)

	// CardGenerations 按结果统计员工工牌生成次数（success/failed）。
	CardGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "card",
			Name:      "generations_total",
			Help:      "员工工牌生成次数。",
		},
		[]string{"result"},
	)

	// CardRendererFallbacks 统计主渲染器失败后切换到备用渲染器的次数。
	CardRendererFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "card",
			Name:      "renderer_fallbacks_total",
			Help:      "主渲染器失败后使用备用渲染器的次数。",
		},
	)

	// ImportRows 按结果统计导入行数（success/failed）。
	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "员工导入处理的行数。",
		},
		[]string{"result"},
	)

	// UploadsRejected 按原因统计被拒绝的上传（type/size/virus/scan_error）。
	UploadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "rejected_total",
			Help:      "被拒绝的上传文件数量。",
		},
		[]string{"reason"},
	)
)

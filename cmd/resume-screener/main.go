package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"resume-screener/internal/api/handler"
	"resume-screener/internal/api/router"
	"resume-screener/internal/config"
	appLogger "resume-screener/internal/logger"
	"resume-screener/internal/parser"
	"resume-screener/internal/processor"
	"resume-screener/internal/storage"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "resume-screener"

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		glog.Warnf("初始化链路追踪失败，继续运行: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// PDF提取器按配置选择Eino或Tika实现
	var pdfExtractor processor.PDFExtractor
	if cfg.Pipeline.PDFExtractorType == "tika" && cfg.Tika.ServerURL != "" {
		var tikaOptions []parser.TikaOption
		if cfg.Tika.Timeout > 0 {
			tikaOptions = append(tikaOptions, parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		pdfExtractor = parser.NewTikaPDFExtractor(cfg.Tika.ServerURL, tikaOptions...)
		glog.Info("使用Tika PDF解析器")
	} else {
		pdfExtractor, err = parser.NewEinoPDFExtractor(ctx)
		if err != nil {
			glog.Fatalf("创建Eino PDF提取器失败: %v", err)
		}
		glog.Info("使用Eino PDF解析器")
	}

	embedder, err := parser.NewOpenAIEmbedder(cfg.Embedding)
	if err != nil {
		glog.Fatalf("初始化Embedder失败: %v", err)
	}

	retryBackoff := config.GetDuration(cfg.Pipeline.RetryBackoff, 2*time.Second)

	// LLM提取器不可用时只依赖正则降级
	var llmExtractor processor.StructuredExtractor
	if cfg.LLM.APIKey != "" {
		chatModel, err := parser.NewOpenAIChatModel(cfg.LLM)
		if err != nil {
			glog.Fatalf("初始化LLM聊天模型失败: %v", err)
		}
		llmExtractor, err = parser.NewLLMStructuredExtractor(chatModel,
			parser.WithRetryPolicy(cfg.Pipeline.MaxAttempts, retryBackoff))
		if err != nil {
			glog.Fatalf("初始化LLM结构化提取器失败: %v", err)
		}
		glog.Info("LLM结构化提取器初始化成功")
	} else {
		glog.Warn("未配置LLM API密钥，结构化提取只使用正则降级路径")
	}
	fallbackExtractor := parser.NewRegexStructuredExtractor()

	chunker := parser.NewChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)

	resumeProcessor, err := processor.NewResumeProcessor(
		storageManager.MySQL,
		storageManager.MinIO,
		pdfExtractor,
		llmExtractor,
		fallbackExtractor,
		chunker,
		embedder,
		storageManager.Qdrant,
		processor.WithRetryPolicy(cfg.Pipeline.MaxAttempts, retryBackoff),
	)
	if err != nil {
		glog.Fatalf("初始化简历处理器失败: %v", err)
	}
	glog.Info("简历处理器初始化成功")

	searchService, err := processor.NewSearchService(
		embedder,
		storageManager.Qdrant,
		storageManager.MySQL,
		cfg.Search.DefaultTopK,
		cfg.Search.DefaultMinSimilarity,
		cfg.Search.MaxQueryChars,
	)
	if err != nil {
		glog.Fatalf("初始化检索服务失败: %v", err)
	}

	if err := startConsumers(cfg, storageManager, resumeProcessor); err != nil {
		glog.Fatalf("启动消费者失败: %v", err)
	}

	resumeHandler := handler.NewResumeHandler(cfg, storageManager)
	searchHandler := handler.NewSearchHandler(searchService)
	healthHandler := handler.NewHealthHandler(storageManager, embedder)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg.Server.APIKey, resumeHandler, searchHandler, healthHandler)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			glog.Errorf("关闭链路追踪失败: %v", err)
		}
	}
	glog.Info("优雅退出完成")
}

// startConsumers 声明拓扑并启动配置数量的消费者
func startConsumers(cfg *config.Config, storageManager *storage.Storage, resumeProcessor *processor.ResumeProcessor) error {
	mq := storageManager.RabbitMQ
	if mq == nil {
		return fmt.Errorf("RabbitMQ未初始化")
	}

	if err := mq.EnsureExchange(cfg.RabbitMQ.ResumeExchange, "direct", true); err != nil {
		return fmt.Errorf("确保交换机存在失败: %w", err)
	}
	if err := mq.EnsureQueue(cfg.RabbitMQ.ProcessQueue, true); err != nil {
		return fmt.Errorf("确保队列存在失败: %w", err)
	}
	if err := mq.BindQueue(cfg.RabbitMQ.ProcessQueue, cfg.RabbitMQ.ResumeExchange, cfg.RabbitMQ.UploadedRoutingKey); err != nil {
		return fmt.Errorf("绑定队列失败: %w", err)
	}

	workers := cfg.RabbitMQ.ConsumerWorkers
	if workers <= 0 {
		workers = 2
	}
	prefetch := cfg.RabbitMQ.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	for i := 0; i < workers; i++ {
		if _, err := mq.StartConsumer(cfg.RabbitMQ.ProcessQueue, prefetch, resumeProcessor.HandleMessage); err != nil {
			return fmt.Errorf("启动第%d个消费者失败: %w", i+1, err)
		}
	}
	glog.Infof("已启动%d个简历处理消费者, 队列: %s", workers, cfg.RabbitMQ.ProcessQueue)
	return nil
}

// initLogger 初始化zerolog双写（控制台+文件）并接管Hertz日志
func initLogger(cfg *config.Config) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("创建日志目录失败: %v", err)
	}
	logFilePath := filepath.Join(logDir, "app.log")
	fileWriter, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("无法打开日志文件 %s: %v", logFilePath, err)
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	multiWriter := zerolog.MultiLevelWriter(consoleWriter, fileWriter)

	appLogger.InitWithWriter(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	}, multiWriter)
	zlog.Logger = appLogger.Logger

	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	if cfg.Logger.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}

// initTracing 初始化OTLP gRPC导出器
// 端点取OTEL_EXPORTER_OTLP_ENDPOINT环境变量，默认localhost:4317
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	conn, err := grpc.Dial(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("连接OTLP collector失败: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("创建OTLP导出器失败: %w", err)
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("构建资源描述失败: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

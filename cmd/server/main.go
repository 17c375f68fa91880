// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/curriculum"
	"cdef-ta-go/internal/handler"
	"cdef-ta-go/internal/middleware"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/pipeline"
	"cdef-ta-go/internal/repository"
	"cdef-ta-go/internal/service"
	"cdef-ta-go/internal/session"
	"cdef-ta-go/pkg/database"
	"cdef-ta-go/pkg/es"
	"cdef-ta-go/pkg/kafka"
	"cdef-ta-go/pkg/llm"
	"cdef-ta-go/pkg/log"
	"cdef-ta-go/pkg/storage"
	"cdef-ta-go/pkg/tika"
	"cdef-ta-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和外部依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 自动迁移表结构
	if err := database.DB.AutoMigrate(&model.User{}, &model.ReferenceDocument{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	historyRepository := repository.NewHistoryRepository(database.RDB)
	documentRepository := repository.NewDocumentRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	llmClient := llm.NewClient(cfg.Gemini)
	cur := curriculum.Load(cfg.Curriculum)
	sessions := session.NewManager()

	userService := service.NewUserService(userRepository, jwtManager)
	searchIndex := service.NewSearchIndex(cfg.Elasticsearch)
	artifactStore := service.NewArtifactStore(cfg.MinIO)
	documentService := service.NewDocumentService(documentRepository, tikaClient, kafka.ProduceExtractionTask, cfg.MinIO)
	workflowService := service.NewWorkflowService(cur, llmClient, documentService, historyRepository, searchIndex, sessions, artifactStore, cfg.Notes)
	quizService := service.NewQuizService(cur, llmClient, artifactStore, historyRepository, searchIndex, workflowService, cfg.Quiz)

	// 6. 初始化文档提取管道 (Processor)
	processor := pipeline.NewProcessor(tikaClient, documentRepository, cfg.MinIO)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 初始化导入默认参考资料目录（幂等，归属 SeedUserID，全员可读）
	initCtx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()
	go initSeedDocuments(initCtx, cfg.Notes.SeedDir, documentService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService, workflowService)
	curriculumHandler := handler.NewCurriculumHandler(cur)
	notesHandler := handler.NewNotesHandler(workflowService)
	doubtHandler := handler.NewDoubtHandler(workflowService)
	quizHandler := handler.NewQuizHandler(quizService)
	historyHandler := handler.NewHistoryHandler(workflowService)
	documentHandler := handler.NewDocumentHandler(documentService)
	chatHandler := handler.NewChatHandler(workflowService, userService, jwtManager)

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", userHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// 课程大纲，公开访问
		curriculumGroup := apiV1.Group("/curriculum")
		{
			curriculumGroup.GET("", curriculumHandler.List)
			curriculumGroup.GET("/topics", curriculumHandler.Topics)
		}

		// 笔记流程，需要认证
		notes := apiV1.Group("/notes")
		notes.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			notes.POST("/generate", notesHandler.Generate)
			notes.POST("/export", notesHandler.Export)
		}

		// 同步答疑，需要认证
		doubts := apiV1.Group("/doubts")
		doubts.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			doubts.POST("/ask", doubtHandler.Ask)
		}

		// 测验流程，需要认证
		quiz := apiV1.Group("/quiz")
		quiz.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			quiz.POST("/generate", quizHandler.Generate)
			quiz.GET("", quizHandler.Current)
			quiz.POST("/answer", quizHandler.Answer)
			quiz.POST("/artifact", quizHandler.UploadArtifact)
			quiz.POST("/grade", quizHandler.Grade)
		}

		// 聊天历史，需要认证
		history := apiV1.Group("/history")
		history.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			history.GET("", historyHandler.Get)
			history.DELETE("", historyHandler.Clear)
			history.GET("/search", historyHandler.Search)
		}

		// 参考文档，需要认证
		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
		}

		// 流式答疑 (WebSocket)
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}
	}
	r.GET("/chat/:token", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者是一个循环，会在程序退出时自然结束。
	log.Info("服务已优雅关闭")
}

// initSeedDocuments 扫描目录下文件并通过标准上传流程导入为默认参考资料（幂等）。
func initSeedDocuments(ctx context.Context, dir string, docSvc service.DocumentService) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedDocuments: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("initSeedDocuments: 读取文件失败: %s, err=%v", path, err)
			return nil
		}

		// Upload 自带 MD5 幂等检查，重复启动不会重复导入
		doc, err := docSvc.Upload(ctx, service.SeedUserID, info.Name(), data)
		if err != nil {
			log.Warnf("initSeedDocuments: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedDocuments: 导入完成并已触发文本提取: %s (id=%d)", doc.FileName, doc.ID)
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedDocuments: 遍历目录发生错误: %v", walkErr)
	}
}

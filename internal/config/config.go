// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Gemini        GeminiConfig        `mapstructure:"gemini"`
	Notes         NotesConfig         `mapstructure:"notes"`
	Quiz          QuizConfig          `mapstructure:"quiz"`
	Curriculum    CurriculumConfig    `mapstructure:"curriculum"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// GeminiConfig 存储生成式语言服务相关的配置。
type GeminiConfig struct {
	APIKey     string                 `mapstructure:"api_key"`
	BaseURL    string                 `mapstructure:"base_url"`
	Model      string                 `mapstructure:"model"`
	Generation GeminiGenerationConfig `mapstructure:"generation"`
}

// GeminiGenerationConfig 配置生成相关参数（可选）。
type GeminiGenerationConfig struct {
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

// NotesConfig 存储笔记生成相关的配置。
type NotesConfig struct {
	// SeedDir 是启动时导入默认参考资料的本地目录，留空则跳过导入。
	SeedDir string `mapstructure:"seed_dir"`
	// MinWords/MaxWords 限定笔记字数目标的合法区间。
	MinWords int `mapstructure:"min_words"`
	MaxWords int `mapstructure:"max_words"`
}

// QuizConfig 存储测验相关的配置。
type QuizConfig struct {
	MinQuestions int `mapstructure:"min_questions"`
	MaxQuestions int `mapstructure:"max_questions"`
	// ChoiceCount 是客观题固定的选项数量。
	ChoiceCount int `mapstructure:"choice_count"`
}

// CurriculumConfig 存储课程大纲的配置。
type CurriculumConfig struct {
	// Units 为单元名到主题列表的映射，留空则使用内置大纲。
	Units map[string][]string `mapstructure:"units"`
	// UnitOrder 固定单元的展示顺序（map 无序）。
	UnitOrder []string `mapstructure:"unit_order"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

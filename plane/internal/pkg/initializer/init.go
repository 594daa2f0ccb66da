package initializer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/pkg/logger"
	"minerfleet/plane/internal/service"

	"go.uber.org/zap"
)

/* DefaultOperator 首次启动创建的运维账号 */
const DefaultOperator = "admin"

// IsFirstRun 检查是否首次运行
func IsFirstRun(configPath string) bool {
	_, err := os.Stat(configPath)
	return os.IsNotExist(err)
}

/*
InitConfig 初始化配置文件
功能：生成随机 JWT 密钥与默认运维账号，密码只在控制台打印一次，配置中仅保存 bcrypt 哈希
*/
func InitConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	cfg, password, err := bootstrapConfig()
	if err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("保存配置文件失败: %w", err)
	}

	printCredentials(DefaultOperator, password)
	logger.Info("✓ 配置文件已生成", zap.String("path", configPath))
	return nil
}

/* bootstrapConfig 默认配置 + 随机密钥 + 默认运维账号 */
func bootstrapConfig() (*config.Config, string, error) {
	cfg := config.DefaultConfig()

	secret, err := randomHex(32)
	if err != nil {
		return nil, "", fmt.Errorf("生成 JWT 密钥失败: %w", err)
	}
	cfg.Auth.JWTSecret = secret

	password, err := randomHex(8)
	if err != nil {
		return nil, "", fmt.Errorf("生成随机密码失败: %w", err)
	}
	hash, err := service.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	cfg.Auth.Operators = []config.OperatorAccount{{Username: DefaultOperator, PasswordHash: hash}}
	return cfg, password, nil
}

// InitDirectories 初始化必要的目录
func InitDirectories() error {
	for _, dir := range []string{"./data", "./logs"} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func printCredentials(username, password string) {
	fmt.Println("")
	fmt.Println("╔══════════════════════════════════════════════════╗")
	fmt.Println("║           默认运维账户已创建                     ║")
	fmt.Println("╠══════════════════════════════════════════════════╣")
	fmt.Printf("║  用户名: %-39s║\n", username)
	fmt.Printf("║  密  码: %-39s║\n", password)
	fmt.Println("╠══════════════════════════════════════════════════╣")
	fmt.Println("║  ⚠ 密码不会再次显示，请妥善保存                 ║")
	fmt.Println("╚══════════════════════════════════════════════════╝")
	fmt.Println("")
}

// PrintWelcome 打印欢迎信息
func PrintWelcome() {
	welcome := `
╔═══════════════════════════════════════════════════════╗
║                                                       ║
║   ███╗   ███╗██╗███╗   ██╗███████╗██████╗             ║
║   ████╗ ████║██║████╗  ██║██╔════╝██╔══██╗            ║
║   ██╔████╔██║██║██╔██╗ ██║█████╗  ██████╔╝            ║
║   ██║╚██╔╝██║██║██║╚██╗██║██╔══╝  ██╔══██╗            ║
║   ██║ ╚═╝ ██║██║██║ ╚████║███████╗██║  ██║            ║
║   ╚═╝     ╚═╝╚═╝╚═╝  ╚═══╝╚══════╝╚═╝  ╚═╝            ║
║                                                       ║
║              ASIC Miner Fleet Manager                 ║
║                      v1.0.0                           ║
║                                                       ║
╚═══════════════════════════════════════════════════════╝
`
	fmt.Println(welcome)
}

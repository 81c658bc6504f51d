package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"flexiID/internal/auth"
	"flexiID/internal/config"
	"flexiID/internal/database"
)

const sampleEmployeeID = "8009654"

func main() {
	var (
		email      = flag.String("email", "", "账号邮箱（必填）")
		name       = flag.String("name", "Admin", "显示名称")
		role       = flag.String("role", database.RoleAdmin, "角色：admin 或 operator")
		password   = flag.String("password", "", "口令（可选，留空则随机生成）")
		reset      = flag.Bool("reset-password", false, "账号已存在时重置口令，而不是报错")
		seedSample = flag.Bool("seed-sample", false, "同时写入一名示例员工")
		dbHost     = flag.String("db-host", "", "数据库 Host（默认读 DATABASE_HOST）")
		dbPort     = flag.Int("db-port", 0, "数据库 Port（默认读 DATABASE_PORT）")
		dbName     = flag.String("db-name", "", "数据库名（默认读 POSTGRES_DB）")
		dbUser     = flag.String("db-user", "", "数据库用户（默认读 POSTGRES_USER）")
		dbPass     = flag.String("db-password", "", "数据库密码（默认读 POSTGRES_PASSWORD）")
		sslMode    = flag.String("db-sslmode", "", "数据库 SSLMODE（默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	addr := strings.ToLower(strings.TrimSpace(*email))
	if addr == "" {
		log.Fatal("missing required flag: --email")
	}
	if *role != database.RoleAdmin && *role != database.RoleOperator {
		log.Fatalf("invalid --role %q", *role)
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}
	db, err := database.InitDatabase(dbCfg, slog.Default())
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	plain := *password
	generated := plain == ""
	if generated {
		if plain, err = generateRandomPassword(18); err != nil {
			log.Fatalf("generate password: %v", err)
		}
	}
	hashed, err := auth.HashPassword(plain)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	var user database.User
	switch err := db.Where("email = ?", addr).First(&user).Error; {
	case err == nil:
		if !*reset {
			log.Fatalf("user %q already exists (use --reset-password to change its password)", addr)
		}
		if err := db.Model(&user).Update("password_hash", hashed).Error; err != nil {
			log.Fatalf("reset password: %v", err)
		}
		fmt.Printf("已重置账号口令：%s（角色 %s）\n", addr, user.Role)
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = database.User{
			Email:        addr,
			Name:         strings.TrimSpace(*name),
			Role:         *role,
			PasswordHash: hashed,
		}
		if err := db.Create(&user).Error; err != nil {
			log.Fatalf("create user: %v", err)
		}
		fmt.Printf("已创建账号：%s（角色 %s）\n", addr, user.Role)
	default:
		log.Fatalf("query user: %v", err)
	}
	if generated {
		fmt.Printf("口令: %s\n", plain)
		fmt.Println("提示：该口令仅显示一次，请妥善保存。")
	}

	if *seedSample {
		created, err := seedSampleEmployee(db)
		if err != nil {
			log.Fatalf("seed sample employee: %v", err)
		}
		if created {
			fmt.Printf("已写入示例员工 %s\n", sampleEmployeeID)
		} else {
			fmt.Printf("示例员工 %s 已存在，跳过\n", sampleEmployeeID)
		}
	}
}

// seedSampleEmployee 写入一名用于调试渲染的示例员工，已存在时不做修改。
func seedSampleEmployee(db *gorm.DB) (bool, error) {
	sample := database.Employee{
		EmployeeID:       sampleEmployeeID,
		FirstName:        "Muhammad",
		LastName:         "Talha",
		Designation:      "Graphic Designer",
		Department:       "Product",
		City:             "Islamabad",
		ContactNumber:    "+92 345 778 9876",
		MobileNumber:     "+92 321 456 7890",
		CNIC:             "31201-9822345-5",
		BloodGroup:       "B-",
		EmergencyContact: "+92 345 678 9900",
		DateOfBirth:      time.Date(1994, 4, 8, 0, 0, 0, 0, time.UTC),
		DateOfJoining:    time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC),
		IsActive:         true,
		CardStatus:       database.CardStatusPending,
	}
	res := db.Where("employee_id = ?", sample.EmployeeID).FirstOrCreate(&sample)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// firstSet 返回第一个非空白值：命令行参数优先，其次依次查环境变量。
func firstSet(flagValue string, envs ...string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	for _, env := range envs {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	cfg := config.DatabaseConfig{
		Host:     firstSet(host, "DATABASE_HOST"),
		Port:     port,
		Name:     firstSet(name, "POSTGRES_DB", "DB_NAME"),
		User:     firstSet(user, "POSTGRES_USER", "DB_USER"),
		Password: firstSet(password, "POSTGRES_PASSWORD", "DB_PASSWORD"),
		SSLMode:  firstSet(sslmode, "DATABASE_SSLMODE"),
	}
	if cfg.Port <= 0 {
		if env := firstSet("", "DATABASE_PORT"); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			cfg.Port = p
		}
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port <= 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	switch {
	case cfg.Name == "":
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	case cfg.User == "":
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	case cfg.Password == "":
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}
	return cfg, nil
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

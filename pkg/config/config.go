// Package config loads controller and node settings from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Controller holds the controller process settings.
type Controller struct {
	ListenAddr string
	Token      string // static bearer token; empty disables auth
	JWTSecret  string

	StateStore string // memory|consul
	ConsulAddr string

	ContractStore string // memory|mysql
	MySQLDSN      string

	ProbeTimeout     time.Duration
	RecoveryAttempts int
	RecoveryInterval time.Duration
	HealthInterval   time.Duration
	SyncInterval     time.Duration
	ScheduleInterval time.Duration
	Resolver         string // first|latest|majority
	AlertWebhook     string

	RateLimit float64 // requests per second; 0 disables
	RateBurst int

	TLSCert  string
	TLSKey   string
	ClientCA string

	LogLevel  string
	LogPretty bool
}

// Node holds the reference worker node settings.
type Node struct {
	ID         string
	ListenAddr string
	Advertise  string // address the controller uses to reach this node
	Controller string // controller base URL; empty skips registration
	Token      string
	DBPath     string
	CAFile     string // controller CA; enables TLS verification against it
	CertFile   string // client certificate for mTLS
	KeyFile    string
	LogLevel   string
	LogPretty  bool
}

// LoadController reads controller settings from the environment.
func LoadController() Controller {
	_ = LoadDotEnv()
	return Controller{
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		Token:            os.Getenv("AUTH_TOKEN"),
		JWTSecret:        getenv("JWT_SECRET", "change-me-secret"),
		StateStore:       getenv("STATE_STORE", "memory"),
		ConsulAddr:       getenv("CONSUL_ADDR", "127.0.0.1:8500"),
		ContractStore:    getenv("CONTRACT_STORE", "memory"),
		MySQLDSN:         os.Getenv("MYSQL_DSN"),
		ProbeTimeout:     getduration("PROBE_TIMEOUT", 5*time.Second),
		RecoveryAttempts: getint("RECOVERY_ATTEMPTS", 3),
		RecoveryInterval: getduration("RECOVERY_INTERVAL", 100*time.Millisecond),
		HealthInterval:   getduration("HEALTH_INTERVAL", 60*time.Second),
		SyncInterval:     getduration("SYNC_INTERVAL", 5*time.Minute),
		ScheduleInterval: getduration("SCHEDULE_INTERVAL", time.Minute),
		Resolver:         getenv("RECONCILE_RESOLVER", "first"),
		AlertWebhook:     os.Getenv("ALERT_WEBHOOK"),
		RateLimit:        getfloat("RATE_LIMIT", 50),
		RateBurst:        getint("RATE_BURST", 100),
		TLSCert:          os.Getenv("TLS_CERT"),
		TLSKey:           os.Getenv("TLS_KEY"),
		ClientCA:         os.Getenv("CLIENT_CA"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogPretty:        getbool("LOG_PRETTY", false),
	}
}

// LoadNode reads worker node settings from the environment.
func LoadNode() Node {
	_ = LoadDotEnv()
	return Node{
		ID:         os.Getenv("NODE_ID"),
		ListenAddr: getenv("NODE_LISTEN_ADDR", ":9090"),
		Advertise:  os.Getenv("NODE_ADVERTISE"),
		Controller: getenv("CONTROLLER_ADDR", "http://127.0.0.1:8080"),
		Token:      os.Getenv("AUTH_TOKEN"),
		DBPath:     getenv("NODE_DB", "/var/lib/contract-mesh/replica.db"),
		CAFile:     os.Getenv("CA_FILE"),
		CertFile:   os.Getenv("CLIENT_CERT"),
		KeyFile:    os.Getenv("CLIENT_KEY"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogPretty:  getbool("LOG_PRETTY", false),
	}
}

// LoadDotEnv loads .env from the working directory if it exists.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

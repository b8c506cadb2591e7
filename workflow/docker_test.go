package workflow_test

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/config"
	"gorm.io/gorm"
)

func requireIntegration(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
}

func dockerRmForce(name string) error {
	return exec.Command("docker", "rm", "-f", name).Run()
}

func startMySQLContainer(t *testing.T) (string, string) {
	t.Helper()
	name := fmt.Sprintf("drum-mysql-%d", time.Now().UnixNano())
	out, err := exec.Command("docker", "run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=drum_test",
		"-p", "127.0.0.1::3306",
		"mysql:8.0",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("docker run mysql: %v: %s", err, out)
	}
	out, err = exec.Command("docker", "port", name, "3306/tcp").Output()
	if err != nil {
		_ = dockerRmForce(name)
		t.Fatalf("docker port: %v", err)
	}
	// "127.0.0.1:49153"
	mapping := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	return name, mapping[strings.LastIndex(mapping, ":")+1:]
}

// connectTestDB points the config package at a fresh MySQL container and migrates it.
func connectTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name, port := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(name) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", port)
	t.Setenv("DB_NAME", "drum_test")

	deadline := time.Now().Add(2 * time.Minute)
	for {
		db, err := config.OpenDatabase(config.DatabaseDSN())
		if err == nil {
			if sqlDB, err := db.DB(); err == nil && sqlDB.Ping() == nil {
				config.SetDB(db)
				t.Cleanup(func() {
					config.SetDB(nil)
					_ = sqlDB.Close()
				})
				return db
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("mysql not ready: %v", err)
		}
		time.Sleep(2 * time.Second)
	}
}

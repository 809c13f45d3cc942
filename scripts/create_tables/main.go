// Creates the chat keyspace and tables. Production deployments should use a
// migration tool instead.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/placement-chat/pkg/store"
)

func main() {
	hostsStr := os.Getenv("SCYLLA_HOSTS")
	if hostsStr == "" {
		hostsStr = "localhost:9042"
	}
	hosts := strings.Split(hostsStr, ",")
	keyspace := os.Getenv("SCYLLA_KEYSPACE")
	if keyspace == "" {
		keyspace = "chat"
	}

	// Keyspace creation needs a session without a keyspace bound.
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = "system"
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	sysSession, err := cluster.CreateSession()
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS ` + keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	sysSession.Close()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}

	s, err := store.NewScylla(hosts, keyspace, 0, slog.Default())
	if err != nil {
		log.Fatalf("Failed to connect to keyspace %s: %v", keyspace, err)
	}
	defer s.Close()

	if err := s.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}
	log.Println("Tables created successfully")
}

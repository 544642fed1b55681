package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/footballistika/predictor/internal/kafka"
)

var usernames = []string{
	"andriy", "bohdan", "dmytro", "halyna", "iryna", "kateryna", "mykola", "oksana",
	"olena", "petro", "roman", "serhiy", "taras", "viktor", "yulia", "zoryana",
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "predictor-commands", "Kafka topic")
	kind := flag.String("type", "", "Single command to send: create_match, prediction or result")
	team1 := flag.String("team1", "", "Home team (create_match)")
	team2 := flag.String("team2", "", "Away team (create_match)")
	matchID := flag.Int64("match", 0, "Match id (prediction, result)")
	userID := flag.Int64("user", 0, "User id (prediction)")
	username := flag.String("username", "", "Username (prediction)")
	score1 := flag.Int("score1", 0, "Home score")
	score2 := flag.Int("score2", 0, "Away score")
	users := flag.Int("users", 0, "Simulate this many users predicting -match (0 = off)")
	rate := flag.Int("rate", 50, "Simulated predictions per second")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	if *users > 0 {
		if *matchID == 0 {
			log.Fatal("-users needs -match")
		}
		simulate(brokerList, *topic, *matchID, *users, *rate)
		return
	}

	var cmd kafka.Command
	switch kafka.CommandType(*kind) {
	case kafka.CommandCreateMatch:
		cmd = kafka.NewCreateMatch(*team1, *team2)
	case kafka.CommandPrediction:
		cmd = kafka.NewPrediction(*matchID, *userID, *username, *score1, *score2)
	case kafka.CommandResult:
		cmd = kafka.NewResult(*matchID, *score1, *score2)
	default:
		fmt.Fprintf(os.Stderr, "unknown -type %q\n", *kind)
		flag.Usage()
		os.Exit(2)
	}
	if err := cmd.Validate(); err != nil {
		log.Fatalf("Invalid command: %v", err)
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	partition, offset, err := producer.SendMessage(message(*topic, cmd))
	if err != nil {
		log.Fatalf("Failed to send command: %v", err)
	}
	fmt.Printf("sent %s %s (partition %d, offset %d)\n", cmd.Type, cmd.ID, partition, offset)
}

// message keys every command on one key so the consumer applies them in order
func message(topic string, cmd kafka.Command) *sarama.ProducerMessage {
	data, err := json.Marshal(cmd)
	if err != nil {
		log.Fatalf("Failed to marshal command: %v", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder("commands"),
		Value: sarama.ByteEncoder(data),
	}
}

// simulate sends one prediction per simulated user at the given rate
func simulate(brokers []string, topic string, matchID int64, users, rate int) {
	fmt.Printf("Simulating %d predictions on match %d at %d/sec\n", users, matchID, rate)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(max(rate, 1)))
	defer ticker.Stop()

loop:
	for i := 0; i < users; i++ {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			break loop
		case <-ticker.C:
		}

		id := int64(1000 + i)
		name := usernames[i%len(usernames)] + strconv.Itoa(i/len(usernames)+1)
		cmd := kafka.NewPrediction(matchID, id, name, rand.Intn(4), rand.Intn(4))
		producer.Input() <- message(topic, cmd)
	}

	producer.AsyncClose()
	wg.Wait()
	fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
}

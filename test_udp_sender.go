package main

import (
	"flag"
	"log"
	"net"
	"time"
)

func send(conn net.Conn, payload string) {
	if _, err := conn.Write([]byte(payload)); err != nil {
		log.Fatalf("❌ Send failed: %v", err)
	}
	log.Printf("📤 Sent %d bytes: %q", len(payload), payload)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:6666", "Collector address")
	pause := flag.Duration("pause", 300*time.Millisecond, "Pause between datagrams")
	flag.Parse()

	log.Printf("🚀 Test UDP Sender starting")
	log.Printf("📡 Target collector: %s", *addr)

	conn, err := net.Dial("udp4", *addr)
	if err != nil {
		log.Fatalf("❌ Failed to dial collector: %v", err)
	}
	defer conn.Close()

	// A complete line in a single datagram
	send(conn, "hello from the test sender\n")
	time.Sleep(*pause)

	// One line split across two datagrams; the collector must join them
	send(conn, "this line arrives ")
	time.Sleep(*pause)
	send(conn, "in two pieces\n")
	time.Sleep(*pause)

	// A burst of lines in one datagram
	send(conn, "burst one\nburst two\nburst three\n")
	time.Sleep(*pause)

	// A second source: new socket, new local port, so the collector
	// tracks it independently
	conn2, err := net.Dial("udp4", *addr)
	if err != nil {
		log.Fatalf("❌ Failed to dial collector: %v", err)
	}
	defer conn2.Close()
	send(conn2, "second source says hi\n")
	time.Sleep(*pause)

	// Interleaved fragments from both sources; lines must not mix
	send(conn, "first source ")
	send(conn2, "second source ")
	send(conn, "kept intact\n")
	send(conn2, "also kept intact\n")
	time.Sleep(*pause)

	// An unterminated tail; the collector writes it out after its idle
	// timeout with a terminator appended
	send(conn, "unterminated tail without newline")

	log.Printf("✅ All test datagrams sent")
	log.Println("💡 Watch the collector's daily log file; the last line appears after the idle timeout")
}

package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"worldstream.ai/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/viewer", "viewer ws url")
		id     = flag.Int("id", 0, "viewer id (0 lets the server assign one)")
		radius = flag.Float64("radius", 200, "radius of the walked circle")
		speed  = flag.Float64("speed", 0.2, "angular speed in radians per second")
		hz     = flag.Int("hz", 10, "pose updates per second")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join := protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		ViewerID:        *id,
		Pos:             circlePos(*radius, 0),
	}
	if err := conn.WriteJSON(join); err != nil {
		logger.Fatalf("send JOIN: %v", err)
	}

	go read(conn, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	if *hz <= 0 {
		*hz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(*hz))
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
		angle := time.Since(start).Seconds() * *speed
		pose := protocol.PoseMsg{
			Type:            protocol.TypePose,
			ProtocolVersion: protocol.Version,
			Pos:             circlePos(*radius, angle),
			Velocity:        circleVel(*radius, *speed, angle),
		}
		if err := conn.WriteJSON(pose); err != nil {
			logger.Printf("send POSE: %v", err)
			return
		}
	}
}

func read(conn *websocket.Conn, logger *log.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			os.Exit(0)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeJoined:
			var j protocol.JoinedMsg
			if err := json.Unmarshal(msg, &j); err != nil {
				continue
			}
			logger.Printf("JOINED viewer_id=%d tick=%d", j.ViewerID, j.Tick)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR code=%s message=%s", e.Code, e.Message)
		}
	}
}

func circlePos(r, angle float64) [3]float64 {
	return [3]float64{r * math.Cos(angle), r * math.Sin(angle), 0}
}

func circleVel(r, w, angle float64) [3]float64 {
	return [3]float64{-r * w * math.Sin(angle), r * w * math.Cos(angle), 0}
}

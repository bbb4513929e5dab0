package main

import (
	"fmt"
	"time"

	cl "traderoom/internal/cli"
	"traderoom/internal/room"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printRooms(rooms []room.Room) {
	if len(rooms) == 0 {
		neutral.Println("No rooms.")
		return
	}
	for _, r := range rooms {
		accent.Printf("%s", r.ID)
		neutral.Printf("  %-12s players %d-%d  created %s\n",
			r.Status, r.MinPlayers, r.MaxPlayers, r.CreatedAt.Format(time.RFC3339))
	}
}

func printRoomDetail(d cl.RoomDetail) {
	accent.Printf("Room %s", d.Room.ID)
	neutral.Printf("  status=%s visibility=%s players %d-%d\n",
		d.Room.Status, d.Visibility, d.Room.MinPlayers, d.Room.MaxPlayers)
	if d.Room.StartedAt != nil {
		neutral.Printf("  started   %s\n", d.Room.StartedAt.Format(time.RFC3339))
	}
	if d.Room.CompletedAt != nil {
		neutral.Printf("  completed %s\n", d.Room.CompletedAt.Format(time.RFC3339))
	}
	if len(d.Memberships) == 0 {
		warn.Println("  no memberships")
		return
	}
	for _, m := range d.Memberships {
		neutral.Printf("  %-10s %s  membership=%s\n", m.Status, m.UserID, m.ID)
	}
}

func printCompletion(rec room.CompletionRecord) {
	accent.Printf("Completion %s\n", rec.RoomID)
	neutral.Printf("  completed_at %s\n", rec.CompletedAt.Format(time.RFC3339))
	neutral.Printf("  players %d (completed %d)\n", rec.PlayerCount, rec.CompletedPlayerCount)
	neutral.Printf("  balances avg=%s high=%s low=%s\n",
		tokens(rec.AverageBalanceMicros), tokens(rec.HighestBalanceMicros), tokens(rec.LowestBalanceMicros))
	if rec.CompletionDuration != nil {
		neutral.Printf("  room duration %s\n", rec.CompletionDuration)
	}
	if rec.FastestPlayerDuration != nil && rec.SlowestPlayerDuration != nil {
		neutral.Printf("  player durations fastest=%s slowest=%s\n",
			rec.FastestPlayerDuration, rec.SlowestPlayerDuration)
	}
	if rec.Degraded {
		warn.Println("  statistics degraded: result data partially missing")
	}
}

func tokens(micros int64) string {
	return fmt.Sprintf("%.2f", float64(micros)/float64(room.MicrosPerToken))
}

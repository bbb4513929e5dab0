package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	cl "traderoom/internal/cli"
	"traderoom/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "trm",
		Short:        "Traderoom admin CLI",
		SilenceUsage: true,
	}

	root.AddCommand(
		newRoomsCmd(&apiBase),
		newCompletionCmd(&apiBase),
		newJoinCmd(&apiBase),
		newStatusCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newRoomsCmd(apiBase *string) *cobra.Command {
	rooms := &cobra.Command{
		Use:   "rooms",
		Short: "Inspect and administer session rooms",
	}
	rooms.AddCommand(
		newRoomsListCmd(apiBase),
		newRoomsShowCmd(apiBase),
		newRoomsCreateCmd(apiBase),
		newRoomsAdvanceCmd(apiBase),
		newRoomsReconcileCmd(apiBase),
	)
	return rooms
}

func newRoomsListCmd(apiBase *string) *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible rooms (active by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := newClient(apiBase).ListRooms(cmd.Context(), completed)
			if err != nil {
				return err
			}
			printRooms(rooms)
			return nil
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "list completed rooms instead of active ones")
	return cmd
}

func newRoomsShowCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <room-id>",
		Short: "Show a room and its memberships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := newClient(apiBase).RoomDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRoomDetail(detail)
			return nil
		},
	}
}

func newRoomsCreateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <min-players> <max-players>",
		Short: "Create a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minPlayers, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("min-players must be a number: %w", err)
			}
			maxPlayers, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("max-players must be a number: %w", err)
			}
			r, err := newClient(apiBase).CreateRoom(cmd.Context(), minPlayers, maxPlayers)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Room created: %s", r.ID))
			return nil
		},
	}
}

func newRoomsAdvanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <room-id> <target>",
		Short: "Advance a room (open -> preparing -> in_progress)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newClient(apiBase).AdvanceRoom(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Room %s is now %s", r.ID, r.Status))
			return nil
		},
	}
}

func newRoomsReconcileCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <room-id>",
		Short: "Re-run completion detection for a room (always safe)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(apiBase).ReconcileRoom(cmd.Context(), args[0]); err != nil {
				return err
			}
			printSuccess("Reconcile complete.")
			return nil
		},
	}
}

func newCompletionCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "completion <room-id>",
		Short: "Show the completion record for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newClient(apiBase).CompletionRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printCompletion(rec)
			return nil
		},
	}
}

func newJoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-id> <user-id>",
		Short: "Join a user into a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newClient(apiBase).JoinRoom(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Joined. Membership: %s", m.ID))
			return nil
		},
	}
}

func newStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <membership-id> <target>",
		Short: "Move a membership (in_game, completed, left, kicked)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newClient(apiBase).SetMembershipStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Membership %s is now %s", m.ID, m.Status))
			return nil
		},
	}
}

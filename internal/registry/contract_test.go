package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// testRepositoryContract runs the behaviour every backend must share.
// newRepo must return an empty, migrated repository.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()
	at := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	seed := func(t *testing.T, repo Repository) {
		t.Helper()
		if _, err := repo.SeedBrokerEndpoint(ctx, BrokerEndpoint{
			Hostname: "broker.local", Port: 1883, ConnectTimeout: 10 * time.Second, ClientID: "bridge",
		}); err != nil {
			t.Fatalf("SeedBrokerEndpoint() error = %v", err)
		}
	}

	t.Run("broker endpoint seeded once", func(t *testing.T) {
		repo := newRepo(t)

		if _, err := repo.LoadBrokerEndpoint(ctx); !errors.Is(err, ErrEndpointNotFound) {
			t.Fatalf("LoadBrokerEndpoint() on empty registry error = %v, want ErrEndpointNotFound", err)
		}

		created, err := repo.SeedBrokerEndpoint(ctx, BrokerEndpoint{Hostname: "first", Port: 1883, ConnectTimeout: 7 * time.Second})
		if err != nil || !created {
			t.Fatalf("first SeedBrokerEndpoint() = %v, %v; want true, nil", created, err)
		}
		created, err = repo.SeedBrokerEndpoint(ctx, BrokerEndpoint{Hostname: "second", Port: 1884})
		if err != nil || created {
			t.Fatalf("second SeedBrokerEndpoint() = %v, %v; want false, nil", created, err)
		}

		e, err := repo.LoadBrokerEndpoint(ctx)
		if err != nil {
			t.Fatalf("LoadBrokerEndpoint() error = %v", err)
		}
		if e.ID != BrokerEndpointID || e.Hostname != "first" || e.Port != 1883 || e.ConnectTimeout != 7*time.Second {
			t.Errorf("LoadBrokerEndpoint() = %+v", e)
		}
		if got := e.Address(); got != "first:1883" {
			t.Errorf("Address() = %q", got)
		}
	})

	t.Run("seed rejects invalid endpoint", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.SeedBrokerEndpoint(ctx, BrokerEndpoint{Hostname: "", Port: 1883}); !errors.Is(err, ErrInvalidEndpoint) {
			t.Errorf("error = %v, want ErrInvalidEndpoint", err)
		}
	})

	t.Run("connection history newest first", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo)

		if _, err := repo.LatestConnectionStatus(ctx, BrokerEndpointID); !errors.Is(err, ErrNoConnectionStatus) {
			t.Fatalf("LatestConnectionStatus() on empty history error = %v", err)
		}

		sequence := []ConnectionState{StatusDisconnected, StatusDisconnected, StatusConnected}
		for i, s := range sequence {
			if err := repo.AppendConnectionStatus(ctx, BrokerEndpointID, s, at.Add(time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("AppendConnectionStatus(%s) error = %v", s, err)
			}
		}

		latest, err := repo.LatestConnectionStatus(ctx, BrokerEndpointID)
		if err != nil {
			t.Fatalf("LatestConnectionStatus() error = %v", err)
		}
		if latest.Status != StatusConnected || !latest.Timestamp.Equal(at.Add(2*time.Second)) {
			t.Errorf("LatestConnectionStatus() = %+v", latest)
		}

		history, err := repo.ListConnectionStatus(ctx, BrokerEndpointID, 10)
		if err != nil {
			t.Fatalf("ListConnectionStatus() error = %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("len(history) = %d, want 3", len(history))
		}
		for i, want := range []ConnectionState{StatusConnected, StatusDisconnected, StatusDisconnected} {
			if history[i].Status != want {
				t.Errorf("history[%d] = %s, want %s", i, history[i].Status, want)
			}
		}

		if err := repo.AppendConnectionStatus(ctx, BrokerEndpointID, "Connecting", at); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("AppendConnectionStatus(Connecting) error = %v, want ErrInvalidStatus", err)
		}
	})

	t.Run("board create and lookup", func(t *testing.T) {
		repo := newRepo(t)

		b, err := repo.CreateBoard(ctx, "00-12-4b-00-7a-ee", "greenhouse")
		if err != nil {
			t.Fatalf("CreateBoard() error = %v", err)
		}
		if b.MAC != "00:12:4B:00:7A:EE" || b.Suffix() != "7A:EE" {
			t.Errorf("CreateBoard() stored MAC %q suffix %q", b.MAC, b.Suffix())
		}

		byMAC, err := repo.FindBoardByMAC(ctx, "00:12:4b:00:7a:ee")
		if err != nil || byMAC.ID != b.ID {
			t.Errorf("FindBoardByMAC() = %+v, %v", byMAC, err)
		}
		bySuffix, err := repo.FindBoardByAddressSuffix(ctx, "7a:ee")
		if err != nil || bySuffix.ID != b.ID || bySuffix.Nickname != "greenhouse" {
			t.Errorf("FindBoardByAddressSuffix() = %+v, %v", bySuffix, err)
		}

		if _, err := repo.FindBoardByAddressSuffix(ctx, "7A:EF"); !errors.Is(err, ErrBoardNotFound) {
			t.Errorf("unknown suffix error = %v, want ErrBoardNotFound", err)
		}
		if _, err := repo.FindBoardByAddressSuffix(ctx, "7AEE"); !errors.Is(err, ErrInvalidSuffix) {
			t.Errorf("malformed suffix error = %v, want ErrInvalidSuffix", err)
		}
		if _, err := repo.FindBoardByMAC(ctx, "00:12:4B:00:7A:EF"); !errors.Is(err, ErrBoardNotFound) {
			t.Errorf("unknown MAC error = %v, want ErrBoardNotFound", err)
		}
	})

	t.Run("distinct suffixes resolve exactly", func(t *testing.T) {
		repo := newRepo(t)

		boards := make(map[string]int64)
		for i := 0; i < 8; i++ {
			mac := fmt.Sprintf("00:12:4B:00:%02X:%02X", i*3, 0xA0+i)
			b, err := repo.CreateBoard(ctx, mac, fmt.Sprintf("board-%d", i))
			if err != nil {
				t.Fatalf("CreateBoard(%s) error = %v", mac, err)
			}
			boards[b.Suffix()] = b.ID
		}

		for suffix, id := range boards {
			got, err := repo.FindBoardByAddressSuffix(ctx, strings.ToLower(suffix))
			if err != nil {
				t.Fatalf("FindBoardByAddressSuffix(%s) error = %v", suffix, err)
			}
			if got.ID != id {
				t.Errorf("FindBoardByAddressSuffix(%s) = board %d, want %d", suffix, got.ID, id)
			}
		}
	})

	t.Run("board conflicts", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.CreateBoard(ctx, "AA:BB:CC:DD:EE:FF", "first"); err != nil {
			t.Fatalf("CreateBoard() error = %v", err)
		}

		tests := []struct {
			name     string
			mac      string
			nickname string
			want     error
		}{
			{"same mac", "aabbccddeeff", "other", ErrBoardExists},
			{"same suffix", "11:22:33:44:EE:FF", "other", ErrSuffixTaken},
			{"same nickname", "11:22:33:44:55:66", "first", ErrNicknameTaken},
			{"bad mac", "AA:BB:CC:DD:EE", "other", ErrInvalidMAC},
			{"mixed separators", "AA:BB-CC:DD:EE:01", "other", ErrInvalidMAC},
			{"empty nickname", "11:22:33:44:55:67", " ", ErrInvalidBoard},
			{"long nickname", "11:22:33:44:55:68", strings.Repeat("n", MaxNicknameLength+1), ErrInvalidBoard},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := repo.CreateBoard(ctx, tt.mac, tt.nickname); !errors.Is(err, tt.want) {
					t.Errorf("CreateBoard(%q, %q) error = %v, want %v", tt.mac, tt.nickname, err, tt.want)
				}
			})
		}
	})

	t.Run("sensors", func(t *testing.T) {
		repo := newRepo(t)
		b1, err := repo.CreateBoard(ctx, "AA:BB:CC:DD:00:01", "one")
		if err != nil {
			t.Fatal(err)
		}
		b2, err := repo.CreateBoard(ctx, "AA:BB:CC:DD:00:02", "two")
		if err != nil {
			t.Fatal(err)
		}

		for _, id := range []string{"tmp", "hum"} {
			if _, err := repo.CreateSensor(ctx, Sensor{BoardID: b1.ID, SensorID: id, Precision: 2}); err != nil {
				t.Fatalf("CreateSensor(%s) error = %v", id, err)
			}
		}

		s, err := repo.FindSensor(ctx, b1.ID, "tmp")
		if err != nil {
			t.Fatalf("FindSensor() error = %v", err)
		}
		if s.BoardID != b1.ID || s.Precision != 2 {
			t.Errorf("FindSensor() = %+v", s)
		}
		if _, err := repo.FindSensor(ctx, b1.ID, "xyz"); !errors.Is(err, ErrSensorNotFound) {
			t.Errorf("unknown sensor error = %v, want ErrSensorNotFound", err)
		}
		if _, err := repo.FindSensor(ctx, b2.ID, "tmp"); !errors.Is(err, ErrSensorNotFound) {
			t.Errorf("sensor of another board error = %v, want ErrSensorNotFound", err)
		}

		list, err := repo.ListSensors(ctx, b1.ID)
		if err != nil {
			t.Fatalf("ListSensors() error = %v", err)
		}
		if len(list) != 2 || list[0].SensorID != "hum" || list[1].SensorID != "tmp" {
			t.Errorf("ListSensors() = %+v", list)
		}

		if _, err := repo.CreateSensor(ctx, Sensor{BoardID: b1.ID, SensorID: "tmp"}); !errors.Is(err, ErrSensorExists) {
			t.Errorf("duplicate sensor error = %v, want ErrSensorExists", err)
		}
		if _, err := repo.CreateSensor(ctx, Sensor{BoardID: 9999, SensorID: "tmp"}); !errors.Is(err, ErrBoardNotFound) {
			t.Errorf("sensor on missing board error = %v, want ErrBoardNotFound", err)
		}
		if _, err := repo.CreateSensor(ctx, Sensor{BoardID: b1.ID, SensorID: "x", Precision: -1}); !errors.Is(err, ErrInvalidSensor) {
			t.Errorf("negative precision error = %v, want ErrInvalidSensor", err)
		}
	})

	t.Run("events", func(t *testing.T) {
		repo := newRepo(t)
		b, err := repo.CreateBoard(ctx, "AA:BB:CC:DD:00:01", "one")
		if err != nil {
			t.Fatal(err)
		}
		s, err := repo.CreateSensor(ctx, Sensor{BoardID: b.ID, SensorID: "tmp"})
		if err != nil {
			t.Fatal(err)
		}

		read, err := repo.CreateSensorReadEvent(ctx, s.ID, at, 45.67)
		if err != nil {
			t.Fatalf("CreateSensorReadEvent() error = %v", err)
		}
		if read.ID == 0 || read.Value != 45.67 {
			t.Errorf("CreateSensorReadEvent() = %+v", read)
		}

		for i, status := range []string{"STT", "TUR", "OK"} {
			if _, err := repo.CreateBoardEvent(ctx, b.ID, at.Add(time.Duration(i)*time.Minute), status); err != nil {
				t.Fatalf("CreateBoardEvent(%s) error = %v", status, err)
			}
		}
		if _, err := repo.CreateBoardEvent(ctx, b.ID, at, "ELEVENCHARS"); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("long status error = %v, want ErrInvalidStatus", err)
		}

		events, err := repo.ListBoardEvents(ctx, b.ID, 2)
		if err != nil {
			t.Fatalf("ListBoardEvents() error = %v", err)
		}
		if len(events) != 2 || events[0].Status != "OK" || events[1].Status != "TUR" {
			t.Errorf("ListBoardEvents() = %+v", events)
		}
		if !events[0].Timestamp.Equal(at.Add(2 * time.Minute)) {
			t.Errorf("event timestamp = %v, want %v", events[0].Timestamp, at.Add(2*time.Minute))
		}
	})

	t.Run("notification recipients", func(t *testing.T) {
		repo := newRepo(t)
		users := []NotificationUser{
			{Name: "Ops", Email: "ops@example.com", NotifyErrors: true},
			{Name: "Viewer", Email: "viewer@example.com"},
			{Name: "Admin", Email: "admin@example.com", NotifyErrors: true},
		}
		for _, u := range users {
			if _, err := repo.CreateNotificationUser(ctx, u); err != nil {
				t.Fatalf("CreateNotificationUser(%s) error = %v", u.Email, err)
			}
		}
		if _, err := repo.CreateNotificationUser(ctx, NotificationUser{Name: "x", Email: "not-an-address"}); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("invalid e-mail error = %v, want ErrInvalidUser", err)
		}

		got, err := repo.ListNotificationRecipients(ctx)
		if err != nil {
			t.Fatalf("ListNotificationRecipients() error = %v", err)
		}
		if len(got) != 2 || got[0] != "admin@example.com" || got[1] != "ops@example.com" {
			t.Errorf("ListNotificationRecipients() = %v", got)
		}
	})

	t.Run("error reports", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.CreateErrorReport(ctx, ErrorReport{
			Timestamp: at,
			Type:      ErrorMQTTConnection,
			Details:   "connection refused",
		})
		if err != nil {
			t.Errorf("CreateErrorReport() error = %v", err)
		}
	})
}

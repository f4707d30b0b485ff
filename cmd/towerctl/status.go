package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/narvanalabs/tower-controller/internal/api/handlers"
	"github.com/narvanalabs/tower-controller/internal/models"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints the fleet status reported by a running controller.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := &statusClient{base: strings.TrimRight(addr, "/"), http: http.DefaultClient}
			var st handlers.StatusResponse
			if err := c.get(ctx, "/api/status", &st); err != nil {
				return err
			}
			var towers []models.Tower
			if err := c.get(ctx, "/api/towers", &towers); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st, towers, time.Now())
		},
	}
	cmd.Flags().String("addr", "http://localhost:8080", "Base URL of the controller API")
	cmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	return cmd
}

type statusClient struct {
	base string
	http *http.Client
}

func (c *statusClient) get(ctx context.Context, path string, out any) error {
	u, err := url.JoinPath(c.base, path)
	if err != nil {
		return fmt.Errorf("building url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func printStatus(w io.Writer, st handlers.StatusResponse, towers []models.Tower, now time.Time) error {
	mode := models.Mode(st.Mode).String()
	fmt.Fprintf(w, "mode: %s  link: %s  well: %s  degraded: %t\n",
		mode, upDown(st.WiFi), okShort(st.WellWater), st.Degraded)
	fmt.Fprintf(w, "towers: %d online of %d, %s raised\n\n",
		st.OnlineTowers, st.TotalTowers, english.Plural(st.AlarmCount, "alarm", "alarms"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLEVEL\tPUMP\tONLINE\tALARMS\tLAST SEEN")
	for _, t := range towers {
		seen := "never"
		if !t.LastSeen.IsZero() {
			seen = humanize.RelTime(t.LastSeen, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d%%\t%s\t%t\t%s\t%s\n",
			t.ID, t.Name, t.Level, onOff(t.PumpOn), t.Online, alarmList(t.Alarms), seen)
	}
	return tw.Flush()
}

func alarmList(a models.Alarms) string {
	var names []string
	if a.LowWater {
		names = append(names, "low")
	}
	if a.Overflow {
		names = append(names, "overflow")
	}
	if a.Shortage {
		names = append(names, "shortage")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func upDown(b bool) string {
	if b {
		return "up"
	}
	return "down"
}

func okShort(b bool) string {
	if b {
		return "ok"
	}
	return "shortage"
}

package app

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/voltlink/internal/apiserver"
	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 80
	t.Wrap = true
	return t
}

func printStatus(w io.Writer, st *controller.Status) {
	t := newTable()
	t.AddRow("STATE:", st.State)
	t.AddRow("KIND:", st.Kind)
	if st.Endpoint != "" {
		t.AddRow("ENDPOINT:", st.Endpoint)
	}
	if st.Session != "" {
		t.AddRow("SESSION:", st.Session)
	}
	t.AddRow("SINCE:", formatTime(st.Since))
	if st.Error != "" {
		t.AddRow("LAST ERROR:", fmt.Sprintf("%s (%s)", st.Error, st.ErrorKind))
	}
	fmt.Fprintln(w, t)
}

func printRecord(w io.Writer, r *telemetry.Record) {
	t := newTable()
	t.AddRow("TIMESTAMP:", formatTime(r.CapturedAt))
	t.AddRow("BATTERY VOLTAGE:", formatFloat(r.Battery.Voltage)+" V")
	t.AddRow("BATTERY CURRENT:", formatFloat(r.Battery.Current)+" A")
	t.AddRow("BATTERY TEMPERATURE:", strconv.Itoa(r.Battery.Temperature)+" °C")
	t.AddRow("STATE OF CHARGE:", strconv.Itoa(r.Battery.SoC)+" %")
	t.AddRow("MOTOR VOLTAGE:", formatFloat(r.Motor.Voltage)+" V")
	t.AddRow("MOTOR CURRENT:", formatFloat(r.Motor.Current)+" A")
	t.AddRow("MOTOR TEMPERATURE:", strconv.Itoa(r.Motor.Temperature)+" °C")
	t.AddRow("MOTOR RPM:", strconv.Itoa(r.Motor.RPM))
	t.AddRow("SPEED:", strconv.Itoa(r.Vehicle.Speed)+" km/h")
	fmt.Fprintln(w, t)
}

func printHistory(w io.Writer, rs []telemetry.Record) {
	t := newTable()
	t.AddRow("TIMESTAMP", "BATT V", "BATT A", "BATT °C", "SOC", "MOTOR V", "MOTOR A", "MOTOR °C", "RPM", "SPEED")
	for _, r := range rs {
		t.AddRow(
			formatTime(r.CapturedAt),
			formatFloat(r.Battery.Voltage),
			formatFloat(r.Battery.Current),
			r.Battery.Temperature,
			r.Battery.SoC,
			formatFloat(r.Motor.Voltage),
			formatFloat(r.Motor.Current),
			r.Motor.Temperature,
			r.Motor.RPM,
			r.Vehicle.Speed,
		)
	}
	fmt.Fprintln(w, t)
}

func printAnalysis(w io.Writer, a *apiserver.AnalysisResponse) {
	t := newTable()
	t.AddRow("TIMESTAMP:", formatTime(a.Timestamp))
	if a.Error != "" {
		t.AddRow("ERROR:", fmt.Sprintf("%s (%s)", a.Error, a.ErrorKind))
	} else {
		t.AddRow("STATUS:", a.Status)
		t.AddRow("ANALYSIS:", a.Analysis)
		t.AddRow("RECOMMENDATION:", a.Recommendation)
	}
	fmt.Fprintln(w, t)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

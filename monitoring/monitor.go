// Package monitoring turns a running engine into a web server, allowing
// external observation and control of the emulation.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/dispatch"
	"github.com/sarchlab/sh4sim/monitoring/web"
)

// Monitor can turn an emulation into a server and allows external
// monitoring and controlling of the dispatch engine.
type Monitor struct {
	engine     *dispatch.Engine
	portNumber int
	url        string
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine to be monitored.
func (m *Monitor) RegisterEngine(e *dispatch.Engine) {
	m.engine = e
}

// URL returns the address the monitor serves on. Empty before
// StartServer.
func (m *Monitor) URL() string {
	return m.url
}

// StartServer starts the monitor as a web server.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()

	fs := web.GetAssets()
	fServer := http.FileServer(fs)
	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/stop", m.stopEngine)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/registers", m.registers)
	r.HandleFunc("/api/blocks", m.listBlocks)
	r.HandleFunc("/api/engine", m.engineDetails)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(fServer)
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	m.url = fmt.Sprintf("http://localhost:%d", port)

	fmt.Fprintf(os.Stderr, "Monitoring emulation with %s\n", m.url)

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) stopEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Stop()
	_, err := w.Write(nil)
	dieOnErr(err)
}

type statusRsp struct {
	ID             string `json:"id"`
	Instructions   uint64 `json:"instructions"`
	Timeslices     uint64 `json:"timeslices"`
	Faults         uint64 `json:"faults"`
	Blocks         int    `json:"blocks"`
	CodeBufferUsed int    `json:"code_buffer_used"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	stats := m.engine.Stats()

	rsp := statusRsp{
		ID:             m.engine.ID(),
		Instructions:   stats.Instructions,
		Timeslices:     stats.Timeslices,
		Faults:         stats.Faults,
		Blocks:         stats.Blocks,
		CodeBufferUsed: stats.CodeBufferUsed,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

// registers pauses the engine so the register file is read at a
// timeslice boundary, not mid-instruction.
func (m *Monitor) registers(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	snapshot := m.engine.Context().Snapshot()
	m.engine.Continue()

	fmt.Fprintf(w, "{\"pc\":%d,\"pr\":%d,\"sr\":%d,\"r\":[", snapshot.PC,
		snapshot.PR, uint32(snapshot.SR))
	for i, r := range snapshot.R {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, "%d", r)
	}
	fmt.Fprint(w, "]}")
}

func (m *Monitor) listBlocks(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	defer m.engine.Continue()

	fmt.Fprint(w, "[")
	first := true
	m.engine.Registry().ForEach(func(b *blocks.BlockInfo) {
		if !first {
			fmt.Fprint(w, ",")
		}
		first = false

		fmt.Fprintf(w, "{\"addr\":%d,\"num_insts\":%d,\"status\":\"%s\"}",
			b.Addr, b.NumInsts, b.Status)
	})
	fmt.Fprint(w, "]")
}

func (m *Monitor) engineDetails(w http.ResponseWriter, _ *http.Request) {
	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.engine)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	bytes, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bytes, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}

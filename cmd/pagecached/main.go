// Command pagecached is a standalone demo binary wiring the page cache core,
// its background worker, and its gRPC/HTTP control surfaces together, the
// way cmd/server wires tinySQL's storage.DB, its gRPC TinySQLServer, and its
// HTTP handlers into one process.
//
// It backs the cache with an in-memory demo MM and a small set of
// in-memory demo files reachable by name over HTTP, since this module has
// no real kernel memory manager or VFS to attach to — the point of this
// binary is to exercise the wiring, not to be a production kernel service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/gokernel/pagecache/cacheconfig"
	"github.com/gokernel/pagecache/cachectl"
	"github.com/gokernel/pagecache/pagecache"
	"github.com/gokernel/pagecache/worker"
)

var (
	flagHTTP       = flag.String("http", ":8080", "HTTP listen address (empty to disable)")
	flagGRPC       = flag.String("grpc", ":9090", "gRPC listen address (empty to disable)")
	flagConfig     = flag.String("config", "", "Path to a cache config YAML file (optional)")
	flagTotalPhys  = flag.Uint64("total-phys-pages", 65536, "Demo MM: total physical pages")
	flagTotalVirt  = flag.Uint64("total-virt-bytes", 8<<30, "Demo MM: total virtual memory, bytes")
	flagVerbose    = flag.Bool("v", false, "Verbose logging")
)

// stdLogger adapts the standard log package to pagecache.Logger/worker.Logger.
type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) { log.Printf(format, args...) }

func main() {
	flag.Parse()

	mm := newDemoMM(4096, *flagTotalPhys, *flagTotalVirt)

	cacheCfg, workerCfg := pagecache.DefaultConfig(), worker.DefaultConfig()
	if p := strings.TrimSpace(*flagConfig); p != "" {
		loaded, loadedWorker, err := cacheconfig.Load(p)
		if err != nil {
			log.Fatalf("cacheconfig: %v", err)
		}
		cacheCfg, workerCfg = loaded, loadedWorker
	}

	var logger pagecache.Logger
	if *flagVerbose {
		logger = stdLogger{}
	}

	cache := pagecache.New(mm, cacheCfg, logger)
	w := worker.New(cache, workerCfg, stdLogger{})
	w.Start()
	defer w.Stop()

	srv := newDemoServer(cache, mm)

	encoding.RegisterCodec(cachectl.Codec())

	var grpcErr atomic.Bool
	if *flagGRPC != "" {
		go func() {
			lis, err := net.Listen("tcp", *flagGRPC)
			if err != nil {
				log.Printf("gRPC listen error: %v", err)
				grpcErr.Store(true)
				return
			}
			gs := grpc.NewServer()
			cachectl.RegisterPageCacheServer(gs, cachectl.NewServer(cache))
			log.Printf("gRPC listening on %s", *flagGRPC)
			if err := gs.Serve(lis); err != nil {
				log.Printf("gRPC serve error: %v", err)
				grpcErr.Store(true)
			}
		}()
	}

	if *flagHTTP != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/stats", srv.handleStats)
		mux.HandleFunc("/api/write", srv.handleWrite)
		mux.HandleFunc("/api/schedule", srv.handleSchedule)
		log.Printf("HTTP listening on %s", *flagHTTP)
		if err := http.ListenAndServe(*flagHTTP, mux); err != nil {
			log.Printf("HTTP serve error: %v", err)
			if grpcErr.Load() {
				os.Exit(1)
			}
		}
	} else {
		select {}
	}
}

// demoServer holds the HTTP handlers' shared state: the cache plus a
// name-keyed registry of in-memory demo files, since there is no real VFS
// for an HTTP client to name files against.
type demoServer struct {
	cache *pagecache.Cache
	mm    *demoMM

	mu    sync.Mutex
	files map[string]*demoFile
}

func newDemoServer(cache *pagecache.Cache, mm *demoMM) *demoServer {
	return &demoServer{cache: cache, mm: mm, files: make(map[string]*demoFile)}
}

func (s *demoServer) fileNamed(name string) *demoFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[name]
	if f == nil {
		f = newDemoFile(pagecache.KindFile)
		s.files[name] = f
	}
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *demoServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.GetStatistics(0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

type writeRequest struct {
	File   string `json:"file"`
	Offset int64  `json:"offset"`
}

// handleWrite simulates a dirtying write: create-or-lookup a page at the
// given offset in the named demo file and mark it dirty, then schedule the
// worker, exactly mirroring the VFS write path's final two steps (§4.4).
func (s *demoServer) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	file := s.fileNamed(req.File)
	phys := s.mm.allocPhys()
	e, _, err := s.cache.CreateOrLookup(file, nil, phys, req.Offset, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.cache.MarkDirty(e)
	s.cache.ScheduleWorker()
	writeJSON(w, map[string]any{"ok": true, "offset": req.Offset})
}

func (s *demoServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	s.cache.ScheduleWorker()
	writeJSON(w, map[string]any{"ok": true, "time": time.Now().Format(time.RFC3339)})
}

// demoMM is an in-memory, software-only stand-in for a real kernel memory
// manager: frame/VA numbers are handed out by simple counters, and the two
// warning channels are only ever closed-then-replaced by callers that want
// to force a demo pressure event (none do by default).
type demoMM struct {
	pageSize  int64
	totalPhys atomic.Uint64
	freePhys  atomic.Uint64
	totalVirt atomic.Uint64
	freeVirt  atomic.Uint64
	vwarn     atomic.Int32

	nextPhys atomic.Uint64

	physEvt chan struct{}
	virtEvt chan struct{}
}

func newDemoMM(pageSize int64, totalPhysPages, totalVirtBytes uint64) *demoMM {
	m := &demoMM{pageSize: pageSize, physEvt: make(chan struct{}), virtEvt: make(chan struct{})}
	m.totalPhys.Store(totalPhysPages)
	m.freePhys.Store(totalPhysPages)
	m.totalVirt.Store(totalVirtBytes)
	m.freeVirt.Store(totalVirtBytes)
	return m
}

func (m *demoMM) allocPhys() uint64 {
	phys := m.nextPhys.Add(uint64(m.pageSize))
	if old := m.freePhys.Load(); old > 0 {
		m.freePhys.Add(^uint64(0)) // decrement by one, matching atomic.Uint64's lack of Sub
	}
	return phys
}

func (m *demoMM) PageSize() int64 { return m.pageSize }
func (m *demoMM) PageShift() uint {
	shift := uint(0)
	for sz := m.pageSize; sz > 1; sz >>= 1 {
		shift++
	}
	return shift
}
func (m *demoMM) TotalPhysicalPages() uint64 { return m.totalPhys.Load() }
func (m *demoMM) FreePhysicalPages() uint64  { return m.freePhys.Load() }
func (m *demoMM) TotalVirtualMemory() uint64 { return m.totalVirt.Load() }
func (m *demoMM) FreeVirtualMemory() uint64  { return m.freeVirt.Load() }
func (m *demoMM) VirtualWarningLevel() pagecache.WarningLevel {
	return pagecache.WarningLevel(m.vwarn.Load())
}
func (m *demoMM) RequestPagingOut(ctx context.Context, target uint64) {
	log.Printf("pagecached: demo MM asked to page out ~%d pages", target)
}
func (m *demoMM) FreePhysicalPage(phys uint64) { m.freePhys.Add(1) }
func (m *demoMM) UnmapAddress(va uint64, length int64) error {
	m.freeVirt.Add(uint64(length))
	return nil
}
func (m *demoMM) SetPageCacheEntryForPhysicalAddress(phys uint64, entry *pagecache.Entry) {}
func (m *demoMM) PhysicalWarningEvent() <-chan struct{}                                   { return m.physEvt }
func (m *demoMM) VirtualWarningEvent() <-chan struct{}                                    { return m.virtEvt }

// demoFile is an in-memory pagecache.File: a write grows an in-memory byte
// buffer to cover the written range instead of reaching a real block device
// or VFS inode; no page bytes are copied into it.
type demoFile struct {
	sync.RWMutex
	kind      pagecache.FileKind
	buf       []byte
	cacheable bool
}

func newDemoFile(kind pagecache.FileKind) *demoFile {
	return &demoFile{kind: kind, cacheable: true}
}

func (f *demoFile) AddRef()                 {}
func (f *demoFile) Release()                {}
func (f *demoFile) Kind() pagecache.FileKind { return f.kind }
func (f *demoFile) IsCacheable() bool        { return f.cacheable }
func (f *demoFile) IsLinkableType() bool     { return f.kind == pagecache.KindFile }
func (f *demoFile) MarkDirty() {
	if *flagVerbose {
		log.Printf("pagecached: demo file marked dirty")
	}
}
func (f *demoFile) Size() int64 {
	f.RLock()
	defer f.RUnlock()
	return int64(len(f.buf))
}
func (f *demoFile) SynchronizeBlockDevice(ctx context.Context) error { return nil }
func (f *demoFile) UnmapImageSectionList(ctx context.Context, offset, size int64, pageCacheOnly bool) (bool, error) {
	return false, nil
}
func (f *demoFile) PerformNonCachedWrite(ctx context.Context, buf [][]byte, fileOffset, size int64) (int64, error) {
	f.Lock()
	defer f.Unlock()
	need := fileOffset + size
	if int64(len(f.buf)) < need {
		grown := make([]byte, need)
		copy(grown, f.buf)
		f.buf = grown
	}
	return size, nil
}

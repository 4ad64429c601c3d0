package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Resource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

type Allocation struct {
	ID           string `json:"id"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	Qty          int64  `json:"qty"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	CreatedUnix  int64  `json:"created_unix"`
}

var (
	backendAddr string

	// cache corto para la tabla de recursos: el monitoreo tolera
	// lecturas viejas, no hace falta pegarle al backend por refresh
	resourceCache = expirable.NewLRU[string, []Resource](4, nil, 2*time.Second)
)

func main() {
	backendAddr = getenv("ALLOC_API_ADDR", "http://localhost:8080")

	mux := http.NewServeMux()
	fs := http.FileServer(http.Dir("static"))
	mux.Handle("/static/", http.StripPrefix("/static/", fs))

	mux.HandleFunc("/", handleIndex)
	mux.HandleFunc("/allocate", handleAllocate)
	mux.HandleFunc("/api/stock", handleAPIStock)

	addr := getenv("FRONTEND_ALLOCATION_ADDR", ":8082")
	fmt.Printf("🌐 Allocation Frontend escuchando en %s\n", addr)
	http.ListenAndServe(addr, mux)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fetchResources() ([]Resource, error) {
	if cached, ok := resourceCache.Get("resources"); ok {
		return cached, nil
	}
	resp, err := http.Get(backendAddr + "/api/resources")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	resourceCache.Add("resources", out.Resources)
	return out.Resources, nil
}

func fetchAllocations() ([]Allocation, error) {
	resp, err := http.Get(backendAddr + "/api/allocations")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Allocations []Allocation `json:"allocations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Allocations, nil
}

var tplFuncs = template.FuncMap{
	"ago": func(unix int64) string {
		return humanize.Time(time.Unix(unix, 0))
	},
	"comma": func(n int64) string {
		return humanize.Comma(n)
	},
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	tpl, err := template.New("index.html").Funcs(tplFuncs).ParseFiles("templates/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resources, err := fetchResources()
	if err != nil {
		http.Error(w, "backend: "+err.Error(), http.StatusBadGateway)
		return
	}
	allocations, err := fetchAllocations()
	if err != nil {
		http.Error(w, "backend: "+err.Error(), http.StatusBadGateway)
		return
	}
	data := map[string]any{
		"Resources":   resources,
		"Allocations": allocations,
		"Msg":         r.URL.Query().Get("msg"),
		"Err":         r.URL.Query().Get("err"),
	}
	_ = tpl.Execute(w, data)
}

// handleAllocate reenvía el formulario al backend y redirige con el
// resultado en query params.
func handleAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	qty, err := strconv.ParseInt(r.FormValue("qty"), 10, 64)
	if err != nil {
		http.Redirect(w, r, "/?err="+url.QueryEscape("cantidad inválida"), http.StatusSeeOther)
		return
	}
	body, _ := json.Marshal(map[string]any{
		"resource_id": r.FormValue("resource_id"),
		"qty":         qty,
	})
	resp, err := http.Post(backendAddr+"/api/allocations", "application/json", bytes.NewReader(body))
	if err != nil {
		http.Redirect(w, r, "/?err="+url.QueryEscape("backend: "+err.Error()), http.StatusSeeOther)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Success      bool   `json:"success"`
		Message      string `json:"message"`
		AvailableQty *int64 `json:"available_qty"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)

	resourceCache.Remove("resources")
	if out.Success {
		http.Redirect(w, r, "/?msg="+url.QueryEscape("asignación confirmada"), http.StatusSeeOther)
		return
	}
	msg := out.Message
	if out.AvailableQty != nil {
		msg = fmt.Sprintf("%s (disponibles: %d)", msg, *out.AvailableQty)
	}
	http.Redirect(w, r, "/?err="+url.QueryEscape(msg), http.StatusSeeOther)
}

// API endpoint para scripts de la página (server-side llama al backend)
func handleAPIStock(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resources, err := fetchResources()
	if err != nil {
		http.Error(w, "backend: "+err.Error(), http.StatusBadGateway)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"resources": resources})
}

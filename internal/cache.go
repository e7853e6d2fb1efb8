package internal

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/robfig/cron/v3"

	"weave/internal/model"
	"weave/internal/spawn"
)

// ScriptsDir is the on-disk mirror of active sources. Stored modules
// execute from memory, but spawn resolves call sites against file text,
// so every active source is materialized here (with the same CommonJS
// wrapper it is compiled with, keeping positions identical).
var ScriptsDir = ".scripts"

var Cache struct {
	Modules     map[string]*goja.Program
	Controllers map[string]*model.Source
	Routes      map[string]string // url → controller name
	Crontabs    map[string]cron.EntryID
}

func InitCache() {
	Cache.Modules = make(map[string]*goja.Program)
	Cache.Controllers = make(map[string]*model.Source)
	Cache.Routes = make(map[string]string)
	if Cache.Crontabs == nil {
		Cache.Crontabs = make(map[string]cron.EntryID)
	}

	InitRoutes()
	MirrorSources()
}

func InitRoutes() {
	rows, err := Db.Query("select name, type, method, url, cron from source where type = 'controller' and active = true")
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	for rows.Next() {
		source := model.Source{}
		if err := rows.Scan(&source.Name, &source.Type, &source.Method, &source.Url, &source.Cron); err != nil {
			panic(err)
		}
		Cache.Controllers[source.Name] = &source
		url := source.Url
		if url == "" {
			url = source.Name
		}
		Cache.Routes[url] = source.Name
	}
}

// GetRoute matches a service path to a controller name.
func GetRoute(path string) string {
	if name, ok := Cache.Routes[path]; ok {
		return name
	}
	return ""
}

func GetController(name string) *model.Source {
	return Cache.Controllers[name]
}

// MirrorPath is where one source's executable text lives on disk.
func MirrorPath(stype string, name string) string {
	file := name + ".ts"
	if stype != "module" {
		file = name + "." + stype + ".ts"
	}
	abs, err := filepath.Abs(filepath.Join(ScriptsDir, file))
	if err != nil {
		return filepath.Join(ScriptsDir, file)
	}
	return abs
}

// MirrorSources rewrites the disk mirror from the store. Modules land
// flat in the scripts directory (node_modules keep their subdirectory)
// so relative specifiers between them resolve by plain path joining.
func MirrorSources() {
	rows, err := Db.Query("select name, type, compiled from source where active = true")
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, stype, compiled string
		if err := rows.Scan(&name, &stype, &compiled); err != nil {
			panic(err)
		}
		MirrorSource(stype, name, compiled)
	}
}

func MirrorSource(stype string, name string, compiled string) {
	path := MirrorPath(stype, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(spawn.WrapModule(compiled)), 0644); err != nil {
		panic(err)
	}
}

func RemoveMirror(stype string, name string) {
	path := MirrorPath(stype, name)
	if strings.HasPrefix(filepath.Base(path), ".") { // 防御异常名称
		return
	}
	os.Remove(path)
}

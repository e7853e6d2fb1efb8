package handler

import (
	"errors"
	"net/http"
	"regexp"

	. "weave/internal"
	"weave/internal/model"
	"weave/internal/util"

	"github.com/dop251/goja"
)

func HandleSource(w http.ResponseWriter, r *http.Request) {
	var (
		data interface{}
		err  error
	)
	switch r.Method {
	case http.MethodPost:
		err = handleSourcePost(r)
	case http.MethodDelete:
		err = handleSourceDelete(r)
	case http.MethodGet:
		data, err = handleSourceGet(r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		toError(w, err)
		return
	}
	toSuccess(w, data)
}

// handleSourcePost creates or replaces a source, refreshes the module
// cache, the disk mirror, the routes and the crontab registrations.
func handleSourcePost(r *http.Request) error {
	var source model.Source
	if err := util.UnmarshalWithIoReader(r.Body, &source); err != nil {
		return err
	}

	// 校验类型
	if ok, _ := regexp.MatchString("^(module|controller|crontab)$", source.Type); !ok {
		return errors.New("type must be module, controller or crontab")
	}
	// 校验名称
	if source.Type == "module" {
		if ok, _ := regexp.MatchString("^(node_modules/)?\\w{2,32}$", source.Name); !ok {
			return errors.New("name is required, it must be a string that matches /(node_modules/)?[A-Za-z0-9_]{2,32}/")
		}
	} else {
		if ok, _ := regexp.MatchString("^\\w{2,32}$", source.Name); !ok {
			return errors.New("name is required, it must be a string that matches /[A-Za-z0-9_]{2,32}/")
		}
	}
	if source.Compiled == "" {
		source.Compiled = source.Content
	}

	if _, err := Db.Exec(
		"insert or replace into source (name, type, content, compiled, active, method, url, cron) values(?, ?, ?, ?, ?, ?, ?, ?)",
		source.Name, source.Type, source.Content, source.Compiled, source.Active, source.Method, source.Url, source.Cron,
	); err != nil {
		return err
	}

	// 清空 module 缓存以重建；镜像、路由、定时任务同步刷新
	Cache.Modules = make(map[string]*goja.Program)
	if source.Active {
		MirrorSource(source.Type, source.Name, source.Compiled)
	} else {
		RemoveMirror(source.Type, source.Name)
	}
	InitRoutes()
	RunCrontabs("")

	return nil
}

func handleSourceDelete(r *http.Request) error {
	r.ParseForm()
	name, stype := r.Form.Get("name"), r.Form.Get("type")
	if name == "" {
		return errors.New("name is required")
	}
	if stype == "" {
		return errors.New("type is required")
	}

	res, err := Db.Exec("delete from source where name = ? and type = ?", name, stype)
	if err != nil {
		return err
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return errors.New("source does not exist")
	}

	Cache.Modules = make(map[string]*goja.Program)
	RemoveMirror(stype, name)
	InitRoutes()

	return nil
}

func handleSourceGet(r *http.Request) (interface{}, error) {
	params := util.QueryParams{Values: r.URL.Query()}
	name := params.GetOrDefault("name", "%")
	stype := params.GetOrDefault("type", "%")
	from := params.GetIntOrDefault("from", 0)
	size := params.GetIntOrDefault("size", 10)

	var total int
	if err := Db.QueryRow("select count(1) from source where name like ? and type like ?", name, stype).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := Db.Query("select name, type, content, compiled, active, method, url, cron from source where name like ? and type like ? limit ?, ?", name, stype, from, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		source := model.Source{}
		if err := rows.Scan(&source.Name, &source.Type, &source.Content, &source.Compiled, &source.Active, &source.Method, &source.Url, &source.Cron); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	return map[string]interface{}{
		"sources": sources,
		"total":   total,
	}, rows.Err()
}

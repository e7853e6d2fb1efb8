package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"weave/internal/builtin"
)

func InitHandle() {
	// 运行态
	http.HandleFunc("/service/", HandleService)

	// 开发态
	http.HandleFunc("/source", HandleSource)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		toSuccess(w, map[string]interface{}{
			"name": "weave",
		})
	})
}

func toSuccess(w http.ResponseWriter, data interface{}) {
	switch v := data.(type) {
	case string:
		fmt.Fprintf(w, "%s", v)
	case []uint8: // byte 即 uint8
		w.Write(v)
	case builtin.Buffer:
		w.Write(([]byte)(v))
	case *builtin.Buffer:
		w.Write(([]byte)(*v))
	default: // map[string]interface{}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.Encode(map[string]interface{}{
			"code":    "0",
			"message": "success",
			"data":    v, // 注：data 如果为 []byte 类型或包含 []byte 类型的属性，在通过 json 序列化后将会被自动转码为 base64 字符串
		})
	}
}

func toError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest) // 在同一次请求响应过程中，只能调用一次 WriteHeader
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    "1",
		"message": err.Error(),
	})
}

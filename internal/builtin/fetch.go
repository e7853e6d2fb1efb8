package builtin

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/http2"
)

func init() {
	Builtins = append(Builtins, func(worker Worker) {
		worker.Runtime().Set("fetch", func(url string, options *FetchOptions) (*goja.Promise, error) {
			if options == nil {
				options = &FetchOptions{
					Method: "GET",
				}
			}

			req, err := http.NewRequest(strings.ToUpper(options.Method), url, strings.NewReader(options.Body))
			if err != nil {
				return nil, err
			}
			for k, v := range options.Headers {
				req.Header.Set(k, v)
			}

			c := &http.Client{}
			if options.Version == 2 { // 配置使用 http 2 协议
				c.Transport = &http2.Transport{
					TLSClientConfig: &tls.Config{
						InsecureSkipVerify: options.InsecureSkipVerify,
					},
				}
			}

			runtime := worker.Runtime()
			promise, resolve, reject := runtime.NewPromise()

			t := worker.EventLoop().NewEventTaskTrigger()
			go func() {
				resp, err := c.Do(req)
				if err != nil {
					t.AddTask(func() {
						reject(runtime.NewGoError(err))
						t.Cancel()
					})
					return
				}
				defer resp.Body.Close()

				data, err := io.ReadAll(resp.Body)
				if err != nil {
					t.AddTask(func() {
						reject(runtime.NewGoError(err))
						t.Cancel()
					})
					return
				}

				headers := map[string]string{}
				for k, v := range resp.Header {
					headers[k] = v[0]
				}

				t.AddTask(func() {
					resolve(&FetchResponse{
						Status:  resp.StatusCode,
						Headers: headers,
						data:    data,
					})
					t.Cancel()
				})
			}()

			return promise, nil
		})
	})
}

type FetchOptions struct {
	Method             string
	Headers            map[string]string
	Body               string
	Version            int // 1 或 2
	InsecureSkipVerify bool
}

type FetchResponse struct {
	Status  int
	Headers map[string]string
	data    []byte
}

func (f *FetchResponse) Buffer() Buffer {
	return f.data
}

func (f *FetchResponse) Json() (interface{}, error) {
	var v interface{}
	err := json.Unmarshal(f.data, &v)
	return v, err
}

func (f *FetchResponse) Text() string {
	return string(f.data)
}

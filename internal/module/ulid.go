package module

import "weave/internal/util"

func init() {
	register("ulid", func(worker Worker, db Db) interface{} {
		return util.CreateULID
	})
}

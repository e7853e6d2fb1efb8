package module

func init() {
	register("db", func(worker Worker, db Db) interface{} {
		return &DatabaseClient{db}
	})
}

type DatabaseClient struct {
	db Db
}

func (d *DatabaseClient) Query(stmt string, params ...interface{}) (records []interface{}, err error) {
	rows, err := d.db.Query(stmt, params...)
	if err != nil {
		return
	}
	defer rows.Close()

	fields, _ := rows.Columns()

	for rows.Next() {
		dataset := make([]interface{}, len(fields))
		for i := range dataset {
			dataset[i] = &dataset[i]
		}
		rows.Scan(dataset...)
		record := make(map[string]interface{})
		for i, v := range dataset {
			record[fields[i]] = v
		}
		records = append(records, record)
	}

	return
}

func (d *DatabaseClient) Exec(stmt string, params ...interface{}) (count int64, err error) {
	res, err := d.db.Exec(stmt, params...)
	if err != nil {
		return
	}
	return res.RowsAffected()
}

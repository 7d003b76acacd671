package script

// browserHeaders mimic a desktop browser navigation request.
func browserHeaders() Header {
	return Header{
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:52.0) Gecko/20100101 Firefox/52.0",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate",
		"Connection":      "keep-alive",
	}
}

func realGet(path string) RequestSpec {
	return RequestSpec{Name: "real GET " + path, Method: "GET", Path: path, Headers: browserHeaders()}
}

func realGet2(path string) RequestSpec {
	h := browserHeaders()
	h["Referer"] = "http://localhost/"
	h["Cookie"] = "session=7d1a3f; theme=dark"
	h["Cache-Control"] = "max-age=0"
	h["Upgrade-Insecure-Requests"] = "1"
	return RequestSpec{Name: "real GET 2 " + path, Method: "GET", Path: path, Headers: h}
}

func post(name string, size BodySize) RequestSpec {
	return RequestSpec{
		Name:    name,
		Method:  "POST",
		Path:    "/upload",
		Headers: Header{"Content-Type": "application/octet-stream"},
		Body:    BodySpec{Size: size},
		Expect:  Expectation{EchoLength: size != BodyEmpty},
	}
}

func group(reqs ...RequestSpec) RequestGroup {
	return RequestGroup{Requests: reqs}
}

// Builtin returns the built-in scenario definitions.
func Builtin() []*TrafficScript {
	return []*TrafficScript{
		{
			Name:        "pipeline",
			Description: "HEAD, GET requests",
			Groups: []RequestGroup{
				group(
					RequestSpec{Method: "HEAD", Path: "/"},
					RequestSpec{Method: "GET", Path: "/"},
					RequestSpec{Method: "GET", Path: "/index.html"},
					RequestSpec{Method: "HEAD", Path: "/index.html"},
				),
			},
		},
		{
			Name:        "get_real",
			Description: "Real GET request",
			Groups:      []RequestGroup{group(realGet("/"))},
		},
		{
			Name:        "get_real_2",
			Description: "Real GET request 2",
			Groups:      []RequestGroup{group(realGet2("/index.html"))},
		},
		{
			Name:        "get_real_pipelined",
			Description: "Real pipelined GET request",
			Groups: []RequestGroup{
				group(realGet("/"), realGet("/index.html"), realGet2("/")),
			},
		},
		{
			Name:        "get_post",
			Description: "GET, POST requests",
			Groups: []RequestGroup{
				group(
					RequestSpec{Method: "GET", Path: "/"},
					post("POST small", BodySmall),
					RequestSpec{Method: "GET", Path: "/index.html"},
				),
			},
		},
		{
			Name:        "head_get",
			Description: "HEAD, GET requests",
			Groups: []RequestGroup{
				group(
					RequestSpec{Method: "HEAD", Path: "/"},
					RequestSpec{Method: "GET", Path: "/"},
				),
			},
		},
		{
			Name:        "post_empty",
			Description: "POST requests with empty body",
			Groups:      []RequestGroup{group(post("POST empty", BodyEmpty))},
		},
		{
			Name:        "post_small",
			Description: "POST requests with small body",
			Groups:      []RequestGroup{group(post("POST small", BodySmall))},
		},
		{
			Name:        "post_big",
			Description: "POST requests with big body",
			Groups:      []RequestGroup{group(post("POST big", BodyBig))},
		},
		{
			Name:        "mixed",
			Description: "Rarely used requests",
			Groups: []RequestGroup{
				group(
					RequestSpec{Method: "OPTIONS", Path: "*"},
					RequestSpec{
						Method:  "PUT",
						Path:    "/resource",
						Headers: Header{"Content-Type": "text/plain"},
						Body:    BodySpec{Size: BodySmall},
						Expect:  Expectation{EchoLength: true},
					},
					RequestSpec{Method: "DELETE", Path: "/resource"},
				),
				group(
					RequestSpec{
						Method:  "PATCH",
						Path:    "/resource",
						Headers: Header{"Content-Type": "application/json"},
						Body:    BodySpec{Size: BodySmall, Content: `{"op":"noop"}`},
						Expect:  Expectation{EchoLength: true, EchoJSONPath: "received"},
					},
					RequestSpec{Method: "GET", Path: "/status/404", Expect: Expectation{Error: true}},
					RequestSpec{Method: "TRACE", Path: "/"},
				),
			},
		},
	}
}

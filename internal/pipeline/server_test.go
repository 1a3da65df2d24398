package pipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/bill-ledger/internal/ledger"
)

var _ = Describe("Server", func() {
	var (
		archive     *mockArchive
		extractor   *mockExtractor
		store       *ledger.Store
		cfg         Config
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	// do sends one request through the server
	do := func(req *http.Request) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+path, nil)
		Expect(err).NotTo(HaveOccurred())
		return do(req)
	}

	upload := func(filename string, data []byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/bills", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return do(req)
	}

	readBody := func(resp *http.Response) string {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	BeforeEach(func() {
		archive = newMockArchive()
		extractor = newMockExtractor()
		tmpDir := GinkgoT().TempDir()
		store = ledger.NewStore(filepath.Join(tmpDir, "database.csv"))
		cfg = Config{
			SchemaPath: filepath.Join(tmpDir, "data_model.csv"),
			ReportsDir: filepath.Join(tmpDir, "reports"),
		}
		Expect(os.WriteFile(cfg.SchemaPath, []byte(testSchema), 0644)).To(Succeed())
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewService(archive, extractor, newMockStorage(), store, cfg)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		When("no credentials are sent", func() {
			It("should return status Unauthorized", func() {
				resp := get("/api/bills")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Bill Ledger"))
			})
		})

		When("the password is wrong", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "wrong")
				Expect(do(req).StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("valid credentials are sent", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
				Expect(do(req).StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("CORS preflight", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should answer OPTIONS without authentication", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/bills", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleUploadBill", func() {
		BeforeEach(func() {
			extractor.records["photo"] = testBill("U-1", "Acme", "2024-03-01", "42.50")
		})

		When("the bill is readable", func() {
			It("should return status Created with the merge outcome", func() {
				resp := upload("receipt.jpg", []byte("photo"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result UploadResult
				Expect(json.Unmarshal([]byte(readBody(resp)), &result)).To(Succeed())
				Expect(result.Bill.SourceFilename).To(Equal("receipt.jpg"))
				Expect(result.Merge.Accepted).To(Equal(1))
			})
		})

		When("the same file is uploaded twice", func() {
			It("should return status Conflict", func() {
				Expect(upload("receipt.jpg", []byte("photo")).StatusCode).To(Equal(http.StatusCreated))
				Expect(upload("receipt.jpg", []byte("photo")).StatusCode).To(Equal(http.StatusConflict))
			})
		})

		When("extraction fails", func() {
			It("should return status Bad Request", func() {
				resp := upload("blurry.jpg", []byte("unknown"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("extracting bill"))
			})
		})

		When("no file is sent", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("note", "hello")).To(Succeed())
				Expect(writer.Close()).To(Succeed())
				req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/bills", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())
				Expect(do(req).StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleGetBill", func() {
		BeforeEach(func() {
			archive.bills["a.jpg"] = &Bill{SourceFilename: "a.jpg", ContentType: "image/jpeg"}
		})

		It("should return the archived bill", func() {
			resp := get("/api/bills/a.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring(`"source_filename":"a.jpg"`))
		})

		It("should return status Not Found for unknown bills", func() {
			Expect(get("/api/bills/b.jpg").StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleConsolidate", func() {
		BeforeEach(func() {
			archive.bills["a.jpg"] = &Bill{SourceFilename: "a.jpg", Record: testBill("A-1", "Acme", "2024-01-15", "10")}
		})

		It("should merge archived bills and list them as records", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/consolidate", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var run Run
			Expect(json.Unmarshal([]byte(readBody(resp)), &run)).To(Succeed())
			Expect(run.Kind).To(Equal(RunConsolidate))
			Expect(run.Merge.Accepted).To(Equal(1))

			var rows []map[string]string
			Expect(json.Unmarshal([]byte(readBody(get("/api/records"))), &rows)).To(Succeed())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0]["source_filename"]).To(Equal("a.jpg"))
		})

		When("the schema definition is broken", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(cfg.SchemaPath, []byte("Name,Type\nx,y\n"), 0644)).To(Succeed())
			})

			It("should return status Unprocessable Entity", func() {
				req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/consolidate", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(do(req).StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("handleListRuns", func() {
		BeforeEach(func() {
			archive.runs["run-1"] = &Run{ID: "run-1", Kind: RunIngest}
		})

		It("should return the run history", func() {
			resp := get("/api/runs")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring(`"id":"run-1"`))
		})
	})

	Describe("report endpoints", func() {
		When("the store holds a single month", func() {
			BeforeEach(func() {
				content := "doc_type,doc_number,issue_date,currency,issuer_name,total_amount,source_filename\n" +
					"invoice,A,2024-01-15,USD,Acme,100,a.jpg\n"
				Expect(os.WriteFile(store.Path(), []byte(content), 0644)).To(Succeed())
			})

			It("should serve the markdown report", func() {
				resp := get("/report")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/markdown"))
				Expect(readBody(resp)).To(ContainSubstring("# Spending Report"))
			})

			It("should not serve a chart", func() {
				Expect(get("/report/monthly_spend.png").StatusCode).To(Equal(http.StatusNotFound))
			})

			It("should return the snapshot as JSON", func() {
				resp := get("/api/report")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var snap map[string]any
				Expect(json.Unmarshal([]byte(readBody(resp)), &snap)).To(Succeed())
				Expect(snap["has_data"]).To(BeTrue())
				Expect(snap["currency"]).To(Equal("USD"))
			})
		})

		When("an unknown report file is requested", func() {
			It("should return status Not Found", func() {
				Expect(get("/report/database.csv").StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})
})

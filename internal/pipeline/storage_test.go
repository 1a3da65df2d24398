package pipeline

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "inbox"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedName string
			err       error
		)

		BeforeEach(func() {
			filename = "bill.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedName, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file name", func() {
				Expect(savedName).To(Equal("bill.jpg"))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, "inbox", "bill.jpg")).To(BeAnExistingFile())
			})
		})

		When("the name contains directories", func() {
			BeforeEach(func() {
				filename = "../escape.jpg"
			})

			It("should save inside the inbox", func() {
				Expect(savedName).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the file already exists", func() {
			JustBeforeEach(func() {
				_, err = storage.Save(filename, []byte("other"))
			})

			It("should return ErrExists", func() {
				Expect(errors.Is(err, ErrExists)).To(BeTrue())
			})

			It("should not overwrite the file", func() {
				got, getErr := storage.Get(filename)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got).To(Equal(data))
			})
		})
	})

	Describe("Get and Delete", func() {
		BeforeEach(func() {
			_, err := storage.Save("a.pdf", []byte("pdf"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should read the file back", func() {
			got, err := storage.Get("a.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(got)).To(Equal("pdf"))
		})

		It("should remove the file", func() {
			Expect(storage.Delete("a.pdf")).To(Succeed())
			_, err := storage.Get("a.pdf")
			Expect(err).To(HaveOccurred())
		})

		When("the file is missing", func() {
			It("should return an error", func() {
				_, err := storage.Get("nope.pdf")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			inbox := filepath.Join(tmpDir, "inbox")
			for _, name := range []string{"b.PDF", "a.jpg", "notes.txt", ".DS_Store", "c.heic"} {
				Expect(os.WriteFile(filepath.Join(inbox, name), []byte("x"), 0644)).To(Succeed())
			}
			Expect(os.Mkdir(filepath.Join(inbox, "sub.jpg"), 0755)).To(Succeed())
		})

		It("should list supported files in name order", func() {
			names, err := storage.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"a.jpg", "b.PDF", "c.heic"}))
		})
	})
})

package receipt

import (
	"errors"
	"fmt"
	"sort"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkaz/budgetlens/internal/ledger"
)

// mockDB is a mock implementation of DB
type mockDB struct {
	receipts      map[string]*Receipt
	expenses      map[string]*ledger.Expense
	createErr     error
	getErr        error
	listErr       error
	deleteErr     error
	transitionErr error
}

func newMockDB() *mockDB {
	return &mockDB{
		receipts: make(map[string]*Receipt),
		expenses: make(map[string]*ledger.Expense),
	}
}

func (m *mockDB) CreateReceipt(r *Receipt) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.receipts[r.ID] = r
	return nil
}

func (m *mockDB) GetReceipt(id string) (*Receipt, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.receipts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

func (m *mockDB) ListReceipts() ([]*Receipt, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	receipts := make([]*Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		receipts = append(receipts, r)
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].UploadedAt.Before(receipts[j].UploadedAt)
	})
	return receipts, nil
}

func (m *mockDB) ListByStatus(status Status) ([]*Receipt, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all, _ := m.ListReceipts()
	receipts := make([]*Receipt, 0)
	for _, r := range all {
		if r.Status == status {
			receipts = append(receipts, r)
		}
	}
	return receipts, nil
}

func (m *mockDB) Transition(id string, from, to Status, update func(*Receipt)) error {
	if m.transitionErr != nil {
		return m.transitionErr
	}
	r, ok := m.receipts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status != from {
		return fmt.Errorf("%w: expected %q, found %q", ErrConflict, from, r.Status)
	}
	if update != nil {
		update(r)
	}
	r.Status = to
	return nil
}

func (m *mockDB) CompleteWithExpenses(id string, expenses []*ledger.Expense) error {
	if err := m.Transition(id, StatusProcessing, StatusCompleted, func(r *Receipt) {
		r.ItemCount = len(expenses)
	}); err != nil {
		return err
	}
	for _, e := range expenses {
		m.expenses[e.ID] = e
	}
	return nil
}

func (m *mockDB) ListExpenses() ([]*ledger.Expense, error) {
	expenses := make([]*ledger.Expense, 0, len(m.expenses))
	for _, e := range m.expenses {
		expenses = append(expenses, e)
	}
	return expenses, nil
}

func (m *mockDB) ListExpensesByReceipt(receiptID string) ([]*ledger.Expense, error) {
	expenses := make([]*ledger.Expense, 0)
	for _, e := range m.expenses {
		if e.SourceReceiptID == receiptID {
			expenses = append(expenses, e)
		}
	}
	return expenses, nil
}

func (m *mockDB) DeleteReceipt(id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.receipts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.receipts, id)
	return nil
}

func (m *mockDB) Close() error {
	return nil
}

// mockImageStore is a mock implementation of ImageStore
type mockImageStore struct {
	files     map[string][]byte
	putErr    error
	getErr    error
	deleteErr error
}

func newMockImageStore() *mockImageStore {
	return &mockImageStore{files: make(map[string][]byte)}
}

func (m *mockImageStore) Put(name string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.files[name] = data
	return nil
}

func (m *mockImageStore) Get(name string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return data, nil
}

func (m *mockImageStore) Delete(name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.files[name]; !ok {
		return errors.New("file not found")
	}
	delete(m.files, name)
	return nil
}

// mockIDGenerator is a mock implementation of IDGenerator
type mockIDGenerator struct {
	id string
}

func (m *mockIDGenerator) Generate() string {
	return m.id
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

var _ = Describe("Service", func() {
	var (
		db      *mockDB
		images  *mockImageStore
		idGen   *mockIDGenerator
		timeSrc *mockTimeSource
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		images = newMockImageStore()
		idGen = &mockIDGenerator{id: "test-id-123"}
		timeSrc = &mockTimeSource{now: time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, images, idGen, timeSrc)
	})

	Describe("SubmitReceipt", func() {
		var (
			filename    string
			data        []byte
			contentType string
			receipt     *Receipt
			err         error
		)

		BeforeEach(func() {
			filename = "IMG_20250103_093042 (1).jpg"
			data = []byte("fake image data")
			contentType = "image/jpeg"
		})

		JustBeforeEach(func() {
			receipt, err = service.SubmitReceipt(filename, data, contentType)
		})

		When("submission succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should set the receipt ID", func() {
				Expect(receipt.ID).To(Equal("test-id-123"))
			})

			It("should start the receipt in pending", func() {
				Expect(receipt.Status).To(Equal(StatusPending))
			})

			It("should sanitize the display filename", func() {
				Expect(receipt.Filename).To(Equal("IMG_20250103_093042 1.jpg"))
			})

			It("should store the image under the receipt ID", func() {
				Expect(receipt.StoredPath).To(Equal("test-id-123.jpg"))
				Expect(images.files).To(HaveKey("test-id-123.jpg"))
			})

			It("should record the receipt in the database", func() {
				saved, getErr := db.GetReceipt("test-id-123")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusPending))
			})

			It("should stamp the upload time", func() {
				Expect(receipt.UploadedAt).To(Equal(timeSrc.now))
			})
		})

		When("the upload is empty", func() {
			BeforeEach(func() {
				data = nil
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})

			It("stores nothing", func() {
				Expect(images.files).To(BeEmpty())
			})
		})

		When("image storage fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("disk full")
				images.putErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("records no receipt", func() {
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the database write fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("database error")
				db.createErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("cleans up the stored image", func() {
				Expect(images.files).NotTo(HaveKey("test-id-123.jpg"))
			})
		})
	})

	Describe("Requeue", func() {
		var (
			receiptID string
			err       error
		)

		JustBeforeEach(func() {
			err = service.Requeue(receiptID)
		})

		When("the receipt is failed", func() {
			BeforeEach(func() {
				receiptID = "r1"
				db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusFailed, ErrorMessage: "boom"}
			})

			It("resets it to pending", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(db.receipts["r1"].Status).To(Equal(StatusPending))
			})
		})

		When("the receipt is pending", func() {
			BeforeEach(func() {
				receiptID = "r1"
				db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusPending}
			})

			It("reports a conflict and changes nothing", func() {
				Expect(err).To(MatchError(ErrConflict))
				Expect(db.receipts["r1"].Status).To(Equal(StatusPending))
			})
		})

		When("the receipt is processing", func() {
			BeforeEach(func() {
				receiptID = "r1"
				db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusProcessing}
			})

			It("reports a conflict and changes nothing", func() {
				Expect(err).To(MatchError(ErrConflict))
				Expect(db.receipts["r1"].Status).To(Equal(StatusProcessing))
			})
		})

		When("the receipt does not exist", func() {
			BeforeEach(func() {
				receiptID = "nope"
			})

			It("reports not found", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListReceipts", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusPending}
			db.receipts["r2"] = &Receipt{ID: "r2", Status: StatusCompleted}
		})

		It("returns everything with an empty status", func() {
			receipts, err := service.ListReceipts("")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(2))
		})

		It("filters by status", func() {
			receipts, err := service.ListReceipts(StatusCompleted)
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].ID).To(Equal("r2"))
		})

		It("rejects an unknown status", func() {
			_, err := service.ListReceipts("limbo")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("DeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", Status: StatusCompleted, StoredPath: "r1.jpg"}
			images.files["r1.jpg"] = []byte("data")
		})

		It("removes the receipt and its image", func() {
			Expect(service.DeleteReceipt("r1")).To(Succeed())
			Expect(db.receipts).NotTo(HaveKey("r1"))
			Expect(images.files).NotTo(HaveKey("r1.jpg"))
		})

		When("the image delete fails", func() {
			BeforeEach(func() {
				images.deleteErr = errors.New("storage error")
			})

			It("still removes the receipt record", func() {
				Expect(service.DeleteReceipt("r1")).To(Succeed())
				Expect(db.receipts).NotTo(HaveKey("r1"))
			})
		})
	})

	Describe("GetReceiptFile", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", StoredPath: "r1.jpg", ContentType: "image/jpeg"}
			images.files["r1.jpg"] = []byte("file data")
		})

		It("returns the stored bytes and content type", func() {
			data, contentType, err := service.GetReceiptFile("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("file data")))
			Expect(contentType).To(Equal("image/jpeg"))
		})

		It("reports not found for unknown receipts", func() {
			_, _, err := service.GetReceiptFile("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
